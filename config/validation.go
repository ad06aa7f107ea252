package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Database type constants
const (
	PostgreSQL = "postgresql"
	Oracle     = "oracle"
)

var supportedDatabaseTypes = []string{PostgreSQL, Oracle}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first and then the cross-field rules tags cannot
// express. The first failure is returned as a *ConfigError.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewInvalidFieldError(fieldPath(fe.Namespace()),
				fmt.Sprintf("failed %q validation (value %v)", fe.Tag(), fe.Value()), nil)
		}
		return err
	}

	if err := validateDatabase(&cfg.Database); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	return nil
}

// validateDatabase only applies when a database section exists; contracts
// attached to caller-supplied handles need no connection settings.
func validateDatabase(cfg *DatabaseConfig) error {
	if !cfg.IsConfigured() {
		return nil
	}

	if !slices.Contains(supportedDatabaseTypes, cfg.Type) {
		return NewInvalidFieldError("database.type", fmt.Sprintf("unsupported type %q", cfg.Type), supportedDatabaseTypes)
	}

	if cfg.ConnectionString != "" {
		return nil
	}

	if cfg.Host == "" {
		return NewMissingFieldError("database.host", "DATABASE_HOST", "database.host")
	}
	if cfg.Port == 0 {
		return NewMissingFieldError("database.port", "DATABASE_PORT", "database.port")
	}
	if cfg.Type == Oracle {
		if cfg.Oracle.Service.Name == "" && cfg.Oracle.Service.SID == "" && cfg.Database == "" {
			return NewMissingFieldError("database.oracle.service.name", "DATABASE_ORACLE_SERVICE_NAME", "database.oracle.service.name")
		}
		return nil
	}
	if cfg.Database == "" {
		return NewMissingFieldError("database.database", "DATABASE_DATABASE", "database.database")
	}
	return nil
}

// fieldPath turns "Config.SQLObject.Batch.ChunkSize" into "sqlobject.batch.chunksize".
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		rest = namespace
	}
	return strings.ToLower(rest)
}
