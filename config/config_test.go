package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	cfg, err := LoadFromBytes(nil)
	require.NoError(t, err)

	assert.Equal(t, "sqlobject", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0, cfg.SQLObject.Batch.ChunkSize)
	assert.False(t, cfg.SQLObject.Binds.Strict)
	assert.Equal(t, 512, cfg.SQLObject.Templates.CacheSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Database.Query.Slow.Threshold)
	assert.Equal(t, int32(25), cfg.Database.Pool.MaxConnections)
	assert.False(t, cfg.Database.IsConfigured())
	assert.NotNil(t, cfg.Koanf())
}

func TestLoadFromBytesOverrides(t *testing.T) {
	yaml := []byte(`
database:
  type: postgresql
  host: localhost
  port: 5432
  database: things
  username: app
  password: secret
  query:
    log:
      parameters: true
sqlobject:
  batch:
    chunksize: 100
  binds:
    strict: true
`)
	cfg, err := LoadFromBytes(yaml)
	require.NoError(t, err)

	assert.True(t, cfg.Database.IsConfigured())
	assert.Equal(t, PostgreSQL, cfg.Database.Type)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Database.Query.Log.Parameters)
	assert.Equal(t, 100, cfg.SQLObject.Batch.ChunkSize)
	assert.True(t, cfg.SQLObject.Binds.Strict)
	assert.Equal(t, "things", cfg.Koanf().String("database.database"))
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "unsupported_database_type",
			yaml:  "database:\n  type: mysql\n  host: h\n",
			field: "database.type",
		},
		{
			name:  "missing_host",
			yaml:  "database:\n  type: postgresql\n  connectionstring: ''\n  port: 5432\n  database: d\n",
			field: "database.host",
		},
		{
			name:  "oracle_needs_service",
			yaml:  "database:\n  type: oracle\n  host: h\n  port: 1521\n",
			field: "database.oracle.service.name",
		},
		{
			name:  "negative_chunk_size",
			yaml:  "sqlobject:\n  batch:\n    chunksize: -1\n",
			field: "sqlobject.batch.chunksize",
		},
		{
			name:  "bad_log_level",
			yaml:  "log:\n  level: loud\n",
			field: "log.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConnectionStringSkipsHostChecks(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("database:\n  type: postgresql\n  connectionstring: postgres://u:p@h/d\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h/d", cfg.Database.ConnectionString)
}

func TestLoadReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile),
		[]byte("app:\n  name: from-file\nsqlobject:\n  batch:\n    chunksize: 10\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("SQLOBJECT_BATCH_CHUNKSIZE", "25")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.App.Name)
	assert.Equal(t, 25, cfg.SQLObject.Batch.ChunkSize)
}

func TestConfigErrorFormatting(t *testing.T) {
	err := NewMissingFieldError("database.host", "DATABASE_HOST", "database.host")
	assert.Equal(t, "config_missing: database.host required set DATABASE_HOST env var or add database.host to config.yaml", err.Error())

	nc := NewNotConfiguredError("database", "DATABASE_TYPE", "database.type")
	assert.ErrorIs(t, nc, ErrNotConfigured)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}
