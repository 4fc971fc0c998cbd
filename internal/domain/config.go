package domain

import "time"

// Config is the full engine configuration loaded by the config manager.
type Config struct {
	Environment string        `mapstructure:"environment"`
	Server      ServerConfig  `mapstructure:"server"`
	Storage     StorageConfig `mapstructure:"storage"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Engine      EngineConfig  `mapstructure:"engine"`
	Reports     ReportConfig  `mapstructure:"reports"`
	Logging     LoggingConfig `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// StorageConfig selects and configures the persistence backend. Profile
// "lite" runs on SQLite and in-memory stores; "postgres" is the production
// profile.
type StorageConfig struct {
	Profile        string         `mapstructure:"profile"`
	SQLitePath     string         `mapstructure:"sqlite_path"`
	MigrationsPath string         `mapstructure:"migrations_path"`
	Database       DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig represents PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents the check-result cache configuration
type CacheConfig struct {
	RedisURL   string        `mapstructure:"redis_url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	MemorySize int           `mapstructure:"memory_size"`
}

// EngineConfig tunes the evaluation pipeline.
type EngineConfig struct {
	ModelType           string        `mapstructure:"model_type"`
	ScoringTimeout      time.Duration `mapstructure:"scoring_timeout"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	BatchConcurrency    int           `mapstructure:"batch_concurrency"`
	MaxAlternatives     int           `mapstructure:"max_alternatives"`
	EquivalenceFloor    float64       `mapstructure:"equivalence_floor"`
}

// ReportConfig configures report generation.
type ReportConfig struct {
	OutputDir string `mapstructure:"output_dir"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
