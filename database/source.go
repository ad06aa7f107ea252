// Package database provides the relational collaborators of the contract
// dispatcher: a Source wrapping a database/sql pool and the Handle sessions
// it opens, with statement tracking on every call.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/go-sqlobject/config"
	"github.com/gaborage/go-sqlobject/database/internal/tracking"
	"github.com/gaborage/go-sqlobject/database/oracle"
	"github.com/gaborage/go-sqlobject/database/postgresql"
	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/logger"
)

// Database vendor identifiers re-exported for callers of this package.
const (
	PostgreSQL = types.PostgreSQL
	Oracle     = types.Oracle
	Generic    = types.Generic
)

// Source hands out Handles backed by a pooled *sql.DB.
type Source struct {
	db         *sql.DB
	vendor     string
	log        logger.Logger
	tc         *tracking.Context
	batch      nativeBatch
	unregister func()

	mu     sync.Mutex
	open   map[string]*Handle
	closed bool
}

var _ types.HandleSource = (*Source)(nil)

// NewSource opens the database described by cfg. The driver is chosen by
// cfg.Type (postgresql or oracle).
func NewSource(cfg *config.DatabaseConfig, log logger.Logger) (*Source, error) {
	if cfg == nil || !cfg.IsConfigured() {
		return nil, config.NewNotConfiguredError("database", "DATABASE_TYPE", "database.type")
	}
	if err := ValidateDatabaseType(cfg.Type); err != nil {
		return nil, err
	}

	var (
		db  *sql.DB
		err error
	)
	switch cfg.Type {
	case PostgreSQL:
		db, err = postgresql.Open(cfg, log)
	case Oracle:
		db, err = oracle.Open(cfg, log)
	}
	if err != nil {
		return nil, err
	}
	return NewSourceFromDB(db, cfg.Type, log, cfg), nil
}

// NewSourceFromDB wraps an existing pool. vendor selects the placeholder
// style and tracking labels; cfg may be nil for tracking defaults.
func NewSourceFromDB(db *sql.DB, vendor string, log logger.Logger, cfg *config.DatabaseConfig) *Source {
	if log == nil {
		log = logger.Nop()
	}
	s := &Source{
		db:     db,
		vendor: vendor,
		log:    log,
		tc: &tracking.Context{
			Logger:   log,
			Vendor:   vendor,
			Settings: tracking.NewSettings(cfg),
		},
		open: make(map[string]*Handle),
	}
	if vendor == PostgreSQL {
		s.batch = postgresql.ExecBatch
	}
	s.unregister = tracking.RegisterPoolMetrics(db.Stats, vendor)
	return s
}

// ValidateDatabaseType returns nil if dbType is one of the supported types.
func ValidateDatabaseType(dbType string) error {
	supported := GetSupportedDatabaseTypes()
	if !slices.Contains(supported, dbType) {
		return fmt.Errorf("unsupported database type: %s (supported: %v)", dbType, supported)
	}
	return nil
}

// GetSupportedDatabaseTypes returns the vendors NewSource can open.
func GetSupportedDatabaseTypes() []string {
	return []string{PostgreSQL, Oracle}
}

// Vendor returns the vendor the source was created for.
func (s *Source) Vendor() string { return s.vendor }

// DB exposes the underlying pool.
func (s *Source) DB() *sql.DB { return s.db }

// Open takes a connection from the pool and pins it to a new Handle.
func (s *Source) Open(ctx context.Context) (types.Handle, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("database: source is closed")
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	id := uuid.NewString()
	h := &Handle{
		id:      id,
		conn:    conn,
		vendor:  s.vendor,
		tc:      s.tc.WithHandle(id),
		batch:   s.batch,
		onClose: s.release,
	}

	s.mu.Lock()
	s.open[id] = h
	s.mu.Unlock()

	s.log.Debug().Str("handle_id", id).Str("vendor", s.vendor).Msg("Handle opened")
	return h, nil
}

func (s *Source) release(h *Handle) {
	s.mu.Lock()
	delete(s.open, h.id)
	s.mu.Unlock()
	s.log.Debug().Str("handle_id", h.id).Msg("Handle closed")
}

// OpenHandles reports how many handles are currently open.
func (s *Source) OpenHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// WithHandle opens a handle, passes it to fn and closes it afterwards,
// whatever fn returns.
func (s *Source) WithHandle(ctx context.Context, fn func(types.Handle) error) (err error) {
	h, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close handle: %w", closeErr))
		}
	}()
	return fn(h)
}

// Execute runs an ad-hoc statement on a short-lived handle.
func (s *Source) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.WithHandle(ctx, func(h types.Handle) error {
		var err error
		affected, err = h.(*Handle).Execute(ctx, query, args...)
		return err
	})
	return affected, err
}

// Health pings the database.
func (s *Source) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Stats returns pool statistics.
func (s *Source) Stats() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
		"open_handles":         s.OpenHandles(),
	}
}

// Close closes handles still open and then the pool.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	handles := make([]*Handle, 0, len(s.open))
	for _, h := range s.open {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		s.log.Warn().Str("handle_id", h.id).Msg("Closing handle left open at source shutdown")
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.unregister != nil {
		s.unregister()
	}
	s.log.Info().Str("vendor", s.vendor).Msg("Closing database source")
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
