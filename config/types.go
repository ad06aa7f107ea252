package config

import (
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the root configuration of a go-sqlobject deployment: application
// metadata, logging, the relational database the contracts talk to and the
// dispatcher defaults.
type Config struct {
	App       AppConfig       `koanf:"app" json:"app" yaml:"app" mapstructure:"app"`
	Log       LogConfig       `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	Database  DatabaseConfig  `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`
	SQLObject SQLObjectConfig `koanf:"sqlobject" json:"sqlobject" yaml:"sqlobject" mapstructure:"sqlobject"`

	// k holds the underlying Koanf instance for flexible access to custom keys
	k *koanf.Koanf `json:"-" yaml:"-" mapstructure:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	Version string `koanf:"version" json:"version" yaml:"version" mapstructure:"version" validate:"required"`
	Env     string `koanf:"env" json:"env" yaml:"env" mapstructure:"env" validate:"oneof=development staging production"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string `koanf:"type" json:"type" yaml:"type" mapstructure:"type"`
	Host     string `koanf:"host" json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `koanf:"port" json:"port" yaml:"port" mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Database string `koanf:"database" json:"database" yaml:"database" mapstructure:"database"`
	Username string `koanf:"username" json:"username" yaml:"username" mapstructure:"username"`
	Password string `koanf:"password" json:"password" yaml:"password" mapstructure:"password"`
	SSLMode  string `koanf:"sslmode" json:"sslmode" yaml:"sslmode" mapstructure:"sslmode"`

	ConnectionString string `koanf:"connectionstring" json:"connectionstring" yaml:"connectionstring" mapstructure:"connectionstring"`

	Pool   PoolConfig   `koanf:"pool" json:"pool" yaml:"pool" mapstructure:"pool"`
	Query  QueryConfig  `koanf:"query" json:"query" yaml:"query" mapstructure:"query"`
	Oracle OracleConfig `koanf:"oracle" json:"oracle" yaml:"oracle" mapstructure:"oracle"`
}

// IsConfigured reports whether a database section was provided at all.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.Type != "" || c.Host != "" || c.ConnectionString != ""
}

// PoolConfig holds connection pool settings handed to database/sql.
// Handles opened by a Source are single connections taken from this pool.
type PoolConfig struct {
	// MaxConnections is the maximum number of open connections. Default: 25.
	MaxConnections int32 `koanf:"maxconnections" json:"maxconnections" yaml:"maxconnections" mapstructure:"maxconnections" validate:"gte=0"`
	// IdleConnections is the number of idle connections kept warm. Default: 2.
	IdleConnections int32 `koanf:"idleconnections" json:"idleconnections" yaml:"idleconnections" mapstructure:"idleconnections" validate:"gte=0"`
	// IdleTime closes connections unused for longer than this. Default: 5m.
	IdleTime time.Duration `koanf:"idletime" json:"idletime" yaml:"idletime" mapstructure:"idletime"`
	// MaxLifetime recycles connections periodically. Default: 30m.
	MaxLifetime time.Duration `koanf:"maxlifetime" json:"maxlifetime" yaml:"maxlifetime" mapstructure:"maxlifetime"`
}

// QueryConfig holds settings related to statement logging and slow statement detection.
type QueryConfig struct {
	Slow SlowQueryConfig `koanf:"slow" json:"slow" yaml:"slow" mapstructure:"slow"`
	Log  QueryLogConfig  `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
}

// SlowQueryConfig holds settings for slow statement detection.
type SlowQueryConfig struct {
	Threshold time.Duration `koanf:"threshold" json:"threshold" yaml:"threshold" mapstructure:"threshold"`
}

// QueryLogConfig holds settings for statement logging.
type QueryLogConfig struct {
	// Parameters enables logging of bound arguments (sensitive names are masked).
	Parameters bool `koanf:"parameters" json:"parameters" yaml:"parameters" mapstructure:"parameters"`
	MaxLength  int  `koanf:"maxlength" json:"maxlength" yaml:"maxlength" mapstructure:"maxlength" validate:"gte=0"`
}

// OracleConfig holds Oracle-specific database settings.
type OracleConfig struct {
	Service ServiceConfig `koanf:"service" json:"service" yaml:"service" mapstructure:"service"`
}

// ServiceConfig holds Oracle service connection settings.
type ServiceConfig struct {
	Name string `koanf:"name" json:"name" yaml:"name" mapstructure:"name"`
	SID  string `koanf:"sid" json:"sid" yaml:"sid" mapstructure:"sid"`
}

// SQLObjectConfig holds defaults applied to every contract built with it.
type SQLObjectConfig struct {
	Batch     BatchConfig     `koanf:"batch" json:"batch" yaml:"batch" mapstructure:"batch"`
	Binds     BindsConfig     `koanf:"binds" json:"binds" yaml:"binds" mapstructure:"binds"`
	Templates TemplatesConfig `koanf:"templates" json:"templates" yaml:"templates" mapstructure:"templates"`
}

// BatchConfig holds batch execution defaults.
type BatchConfig struct {
	// ChunkSize is the default number of rows per round trip. 0 means one
	// chunk holding every row. A chunk tag on a method overrides it.
	ChunkSize int `koanf:"chunksize" json:"chunksize" yaml:"chunksize" mapstructure:"chunksize" validate:"gte=0"`
}

// BindsConfig controls bind validation at contract build time.
type BindsConfig struct {
	// Strict rejects named bind specs that no template token references.
	Strict bool `koanf:"strict" json:"strict" yaml:"strict" mapstructure:"strict"`
}

// TemplatesConfig controls the parsed template cache.
type TemplatesConfig struct {
	CacheSize int `koanf:"cachesize" json:"cachesize" yaml:"cachesize" mapstructure:"cachesize" validate:"gte=0"`
}
