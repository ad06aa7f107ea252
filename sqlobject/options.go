package sqlobject

import (
	"reflect"

	"github.com/Masterminds/squirrel"

	"github.com/gaborage/go-sqlobject/config"
	"github.com/gaborage/go-sqlobject/logger"
)

// Option configures a contract build.
type Option func(*settings)

type settings struct {
	log               logger.Logger
	registry          *Registry
	mappers           map[reflect.Type]RowMapper
	namedMappers      map[string]RowMapper
	customizers       []Customizer
	methodCustomizers map[string][]Customizer
	namedCustomizers  map[string]Customizer
	sql               map[string]squirrel.Sqlizer
	strict            bool
	chunkSize         int
	err               error
}

func newSettings(opts []Option) (*settings, error) {
	s := &settings{
		log:               logger.Nop(),
		registry:          DefaultRegistry,
		mappers:           make(map[reflect.Type]RowMapper),
		namedMappers:      make(map[string]RowMapper),
		methodCustomizers: make(map[string][]Customizer),
		namedCustomizers:  make(map[string]Customizer),
		sql:               make(map[string]squirrel.Sqlizer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, s.err
}

func (s *settings) fail(format string, args ...any) {
	if s.err == nil {
		s.err = configError("", format, args...)
	}
}

// WithLogger sets the logger for build, lifecycle and failure events.
func WithLogger(log logger.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRegistry resolves custom binders from r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(s *settings) {
		if r == nil {
			s.fail("registry is nil")
			return
		}
		s.registry = r
	}
}

// WithMapper registers m as the mapper for result elements of type T. It
// replaces the reflective default for T.
func WithMapper[T any](m RowMapper) Option {
	return func(s *settings) {
		if m == nil {
			s.fail("mapper for %s is nil", reflect.TypeFor[T]())
			return
		}
		s.mappers[reflect.TypeFor[T]()] = m
	}
}

// WithNamedMapper registers m under name for use in `mapper` tags.
func WithNamedMapper(name string, m RowMapper) Option {
	return func(s *settings) {
		if name == "" || m == nil {
			s.fail("named mapper needs a name and a mapper")
			return
		}
		s.namedMappers[name] = m
	}
}

// WithCustomizers appends contract-level customizers, applied to every
// method before its own customizers.
func WithCustomizers(cs ...Customizer) Option {
	return func(s *settings) {
		s.customizers = append(s.customizers, cs...)
	}
}

// WithMethodCustomizers appends customizers applied last to the method held
// by field.
func WithMethodCustomizers(field string, cs ...Customizer) Option {
	return func(s *settings) {
		s.methodCustomizers[field] = append(s.methodCustomizers[field], cs...)
	}
}

// WithNamedCustomizer registers c under name for use in `customize` tags.
func WithNamedCustomizer(name string, c Customizer) Option {
	return func(s *settings) {
		if name == "" || c == nil {
			s.fail("named customizer needs a name and a customizer")
			return
		}
		s.namedCustomizers[name] = c
	}
}

// WithStrictBinds rejects, at build, named and positional bind specs that no
// template site references. By default such binds are tolerated.
func WithStrictBinds(strict bool) Option {
	return func(s *settings) {
		s.strict = strict
	}
}

// WithSQL supplies the template of the method held by field from a query
// builder. The builder must use squirrel.Question placeholders; its
// arguments fill the leading `?` sites and positional parameters follow.
//
//	sqlobject.WithSQL("Active", squirrel.Select("name").From("something").
//	    Where(squirrel.Eq{"active": true}).Where("id > :min"))
func WithSQL(field string, b squirrel.Sqlizer) Option {
	return func(s *settings) {
		if b == nil {
			s.fail("query builder for %s is nil", field)
			return
		}
		s.sql[field] = b
	}
}

// WithChunkSize sets the default batch chunk size for methods without a
// chunk tag or ChunkSize customizer. Zero sends all rows in one chunk.
func WithChunkSize(n int) Option {
	return func(s *settings) {
		if n < 0 {
			s.fail("chunk size %d is negative", n)
			return
		}
		s.chunkSize = n
	}
}

// WithConfig applies the sqlobject section of the application config: the
// default chunk size, strict bind checking and the parsed template cache
// capacity, which is process-wide.
func WithConfig(cfg *config.SQLObjectConfig) Option {
	return func(s *settings) {
		if cfg == nil {
			return
		}
		if cfg.Batch.ChunkSize < 0 {
			s.fail("sqlobject.batch.chunksize %d is negative", cfg.Batch.ChunkSize)
			return
		}
		s.chunkSize = cfg.Batch.ChunkSize
		s.strict = cfg.Binds.Strict
		if cfg.Templates.CacheSize > 0 {
			templates.Resize(cfg.Templates.CacheSize)
		}
	}
}
