package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// DefaultFile is the YAML file Load reads when present.
const DefaultFile = "config.yaml"

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. config.yaml and config.<env>.yaml
// 3. Default values (lowest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := loadOptionalFile(k, DefaultFile); err != nil {
		return nil, err
	}
	if env := k.String("app.env"); env != "" {
		if err := loadOptionalFile(k, fmt.Sprintf("config.%s.yaml", env)); err != nil {
			return nil, err
		}
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	return unmarshal(k)
}

// LoadFromBytes loads configuration from an in-memory YAML document layered
// over the defaults. Environment variables are not consulted, which keeps
// embedded configurations and tests deterministic.
func LoadFromBytes(data []byte) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	return unmarshal(k)
}

// Koanf exposes the underlying instance for keys outside the typed structure.
func (c *Config) Koanf() *koanf.Koanf {
	return c.k
}

func loadOptionalFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadEnv(k *koanf.Koanf) error {
	prefixes := []string{"APP_", "LOG_", "DATABASE_", "SQLOBJECT_"}
	provider := envprovider.Provider(".", envprovider.Opt{
		TransformFunc: func(key, value string) (string, any) {
			for _, p := range prefixes {
				if strings.HasPrefix(key, p) {
					// Convert UPPER_CASE to lower.case for koanf
					return strings.ReplaceAll(strings.ToLower(key), "_", "."), value
				}
			}
			return "", nil
		},
	})
	if err := k.Load(provider, nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":    "sqlobject",
		"app.version": "v0.1.0",
		"app.env":     EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,

		// Connection settings are intentionally absent; pool and tracking
		// defaults only matter once a database is configured.
		"database.pool.maxconnections":  25,
		"database.pool.idleconnections": 2,
		"database.pool.idletime":        "5m",
		"database.pool.maxlifetime":     "30m",
		"database.query.slow.threshold": "200ms",
		"database.query.log.maxlength":  1000,

		"sqlobject.batch.chunksize":     0,
		"sqlobject.binds.strict":        false,
		"sqlobject.templates.cachesize": 512,
	}

	return k.Load(confmap.Provider(defaults, "."), nil)
}
