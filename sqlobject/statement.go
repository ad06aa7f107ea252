package sqlobject

import (
	"strings"

	"github.com/gaborage/go-sqlobject/database/types"
)

// Statement is the per-invocation state of a contract method: its template,
// the values written by binders and the settings written by customizers.
// A Statement is never shared between invocations.
type Statement struct {
	method   string
	template *Template

	named      map[string]any
	positional map[int]any

	mapper       RowMapper
	maxFieldSize int
	chunkSize    int
}

func newStatement(method string, t *Template) *Statement {
	return &Statement{method: method, template: t}
}

// Method returns the qualified method name ("Contract.Field").
func (s *Statement) Method() string { return s.method }

// Template returns the parsed template.
func (s *Statement) Template() *Template { return s.template }

// Bind sets the value of :name, replacing any earlier value.
func (s *Statement) Bind(name string, v any) *Statement {
	if s.named == nil {
		s.named = make(map[string]any)
	}
	s.named[name] = v
	return s
}

// BindPosition sets the value of the zero-based i-th `?` site.
func (s *Statement) BindPosition(i int, v any) *Statement {
	if s.positional == nil {
		s.positional = make(map[int]any)
	}
	s.positional[i] = v
	return s
}

// Lookup returns the value bound to name. An exact match wins; otherwise
// names are compared case-insensitively so `:name` finds a field bound as
// "Name". When several bound names differ only by case, the lowest in
// byte order wins.
func (s *Statement) Lookup(name string) (any, bool) {
	if v, ok := s.named[name]; ok {
		return v, true
	}
	var (
		best  string
		value any
		found bool
	)
	for k, v := range s.named {
		if strings.EqualFold(k, name) && (!found || k < best) {
			best, value, found = k, v, true
		}
	}
	return value, found
}

// Position returns the value bound to the zero-based i-th `?` site.
func (s *Statement) Position(i int) (any, bool) {
	v, ok := s.positional[i]
	return v, ok
}

// SetMapper selects the row mapper for query results.
func (s *Statement) SetMapper(m RowMapper) *Statement {
	s.mapper = m
	return s
}

// Mapper returns the selected row mapper.
func (s *Statement) Mapper() RowMapper { return s.mapper }

// SetMaxFieldSize limits string and []byte result values to n bytes.
// Zero means unlimited.
func (s *Statement) SetMaxFieldSize(n int) *Statement {
	s.maxFieldSize = n
	return s
}

// MaxFieldSize returns the field size limit.
func (s *Statement) MaxFieldSize() int { return s.maxFieldSize }

// SetChunkSize sets the number of batch rows sent per round trip.
// Zero means all rows in one chunk.
func (s *Statement) SetChunkSize(n int) *Statement {
	s.chunkSize = n
	return s
}

// ChunkSize returns the batch chunk size.
func (s *Statement) ChunkSize() int { return s.chunkSize }

// Render produces driver SQL and arguments in the given placeholder style.
func (s *Statement) Render(style types.Placeholder) (string, []any, error) {
	query, args, err := s.template.Render(style, s)
	if err != nil {
		return "", nil, withMethod(err, s.method)
	}
	return query, args, nil
}
