package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/drug-interaction-engine/internal/domain"
)

// Manager loads and validates engine configuration using Viper
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/drug-interaction-engine/")

	viper.SetEnvPrefix("DRUGCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and environment variables suffice.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	viper.SetDefault("environment", "development")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.rate_limit", 50)
	viper.SetDefault("server.rate_burst", 100)

	// Storage defaults; the lite profile needs no external services
	viper.SetDefault("storage.profile", "lite")
	viper.SetDefault("storage.sqlite_path", "drugcheck.db")
	viper.SetDefault("storage.migrations_path", "internal/database/migrations")
	viper.SetDefault("storage.database.host", "localhost")
	viper.SetDefault("storage.database.port", 5432)
	viper.SetDefault("storage.database.database", "drugcheck")
	viper.SetDefault("storage.database.username", "postgres")
	viper.SetDefault("storage.database.password", "")
	viper.SetDefault("storage.database.ssl_mode", "disable")
	viper.SetDefault("storage.database.max_open_conns", 25)
	viper.SetDefault("storage.database.max_idle_conns", 5)
	viper.SetDefault("storage.database.conn_max_lifetime", "5m")

	// Cache defaults; redis_url empty keeps the cache memory-only
	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.default_ttl", "15m")
	viper.SetDefault("cache.memory_size", 4096)

	// Engine defaults
	viper.SetDefault("engine.model_type", "interaction-classifier")
	viper.SetDefault("engine.scoring_timeout", "2s")
	viper.SetDefault("engine.confidence_threshold", 0.4)
	viper.SetDefault("engine.batch_concurrency", 8)
	viper.SetDefault("engine.max_alternatives", 5)
	viper.SetDefault("engine.equivalence_floor", 0.75)

	// Report defaults
	viper.SetDefault("reports.output_dir", "reports")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetStorageConfig returns storage configuration
func (m *Manager) GetStorageConfig() *domain.StorageConfig {
	return &m.config.Storage
}

// GetEngineConfig returns engine configuration
func (m *Manager) GetEngineConfig() *domain.EngineConfig {
	return &m.config.Engine
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Storage.Profile {
	case "lite":
		if config.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for the lite storage profile")
		}
	case "postgres":
		if config.Storage.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Storage.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Storage.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	default:
		return fmt.Errorf("unknown storage profile: %s", config.Storage.Profile)
	}

	if config.Engine.ConfidenceThreshold < 0 || config.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("invalid confidence threshold: %f", config.Engine.ConfidenceThreshold)
	}
	if config.Engine.ScoringTimeout <= 0 {
		return fmt.Errorf("scoring timeout must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Storage.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database URL for the migration runner
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Storage.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}
