package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drug-interaction-engine/internal/domain"
)

func TestBuildDSN(t *testing.T) {
	cfg := domain.DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		Database: "drugcheck",
		Username: "engine",
		Password: "secret",
		SSLMode:  "require",
	}

	dsn := buildDSN(cfg)

	assert.Equal(t, "host=db.internal port=5433 dbname=drugcheck user=engine password=secret sslmode=require", dsn)
}

func TestBuildDSNEmptyPassword(t *testing.T) {
	cfg := domain.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "drugcheck",
		Username: "postgres",
		SSLMode:  "disable",
	}

	dsn := buildDSN(cfg)

	assert.Contains(t, dsn, "password= ")
	assert.Contains(t, dsn, "sslmode=disable")
}
