// Package postgresql opens PostgreSQL pools through the pgx stdlib driver and
// provides pgx's pipelined batch for handles pinned to a pgx connection.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/gaborage/go-sqlobject/config"
	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/logger"
)

var (
	openPostgresDB = func(cfg *pgx.ConnConfig) *sql.DB {
		return stdlib.OpenDB(*cfg)
	}
	pingPostgresDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

// quoteDSN quotes a DSN value according to libpq rules: empty values become
// '', and values with characters outside [A-Za-z0-9._-] are single-quoted
// with backslashes and quotes escaped.
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}

// DSN returns the connection string for cfg. An explicit connection string
// wins over the discrete fields.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	parts := []string{
		fmt.Sprintf("host=%s", quoteDSN(cfg.Host)),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("user=%s", quoteDSN(cfg.Username)),
		fmt.Sprintf("password=%s", quoteDSN(cfg.Password)),
		fmt.Sprintf("dbname=%s", quoteDSN(cfg.Database)),
	}
	if cfg.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
	}
	return strings.Join(parts, " ")
}

// Open creates a pooled *sql.DB backed by pgx, applies the pool settings and
// verifies connectivity.
func Open(cfg *config.DatabaseConfig, log logger.Logger) (*sql.DB, error) {
	pgxConfig, err := pgx.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	db := openPostgresDB(pgxConfig)
	db.SetMaxOpenConns(int(cfg.Pool.MaxConnections))
	db.SetMaxIdleConns(int(cfg.Pool.IdleConnections))
	db.SetConnMaxLifetime(cfg.Pool.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.Pool.IdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pingPostgresDB(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close PostgreSQL database connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	log.Info().
		Str("host", pgxConfig.Host).
		Int("port", int(pgxConfig.Port)).
		Str("database", pgxConfig.Database).
		Msg("Connected to PostgreSQL database")

	return db, nil
}

// ExecBatch queues query once per parameter row and sends the whole chunk
// in one pipelined round trip. It returns types.ErrBatchUnsupported when
// conn is not backed by pgx.
func ExecBatch(ctx context.Context, conn *sql.Conn, query string, rows [][]any) ([]int64, error) {
	counts := make([]int64, 0, len(rows))
	err := conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return types.ErrBatchUnsupported
		}

		batch := &pgx.Batch{}
		for _, args := range rows {
			batch.Queue(query, args...)
		}

		results := pc.Conn().SendBatch(ctx, batch)
		for i := range rows {
			tag, err := results.Exec()
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("batch row %d: %w", i, err)
			}
			counts = append(counts, tag.RowsAffected())
		}
		return results.Close()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
