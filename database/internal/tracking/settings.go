// Package tracking records every statement a handle executes: a structured
// log line, an OpenTelemetry client span and the db.client metrics.
package tracking

import (
	"time"

	"github.com/gaborage/go-sqlobject/config"
	"github.com/gaborage/go-sqlobject/logger"
)

const (
	// DefaultSlowQueryThreshold is used when the configuration leaves it unset.
	DefaultSlowQueryThreshold = 200 * time.Millisecond
	// DefaultMaxQueryLength bounds logged statement text and arguments.
	DefaultMaxQueryLength = 1000
)

// Settings controls what gets logged for each statement.
type Settings struct {
	slowQueryThreshold time.Duration
	maxQueryLength     int
	logQueryParameters bool
}

// Context carries what TrackDBOperation needs from the owning handle.
type Context struct {
	Logger   logger.Logger
	Vendor   string
	HandleID string
	Settings Settings
}

// NewSettings reads the database query section. Non-positive values fall
// back to the defaults; a nil cfg yields the defaults with parameter logging
// disabled.
func NewSettings(cfg *config.DatabaseConfig) Settings {
	settings := Settings{
		slowQueryThreshold: DefaultSlowQueryThreshold,
		maxQueryLength:     DefaultMaxQueryLength,
	}
	if cfg == nil {
		return settings
	}

	if cfg.Query.Slow.Threshold > 0 {
		settings.slowQueryThreshold = cfg.Query.Slow.Threshold
	}
	if cfg.Query.Log.MaxLength > 0 {
		settings.maxQueryLength = cfg.Query.Log.MaxLength
	}
	settings.logQueryParameters = cfg.Query.Log.Parameters
	return settings
}

// SlowQueryThreshold returns the duration above which a statement logs at warn.
func (s Settings) SlowQueryThreshold() time.Duration {
	return s.slowQueryThreshold
}

// MaxQueryLength returns the maximum logged statement length in runes.
func (s Settings) MaxQueryLength() int {
	return s.maxQueryLength
}

// LogQueryParameters reports whether bound arguments are logged.
func (s Settings) LogQueryParameters() bool {
	return s.logQueryParameters
}

// WithHandle returns a copy of tc scoped to one handle.
func (tc *Context) WithHandle(id string) *Context {
	if tc == nil {
		return nil
	}
	scoped := *tc
	scoped.HandleID = id
	return &scoped
}
