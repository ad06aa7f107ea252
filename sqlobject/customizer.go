package sqlobject

import "fmt"

// Customizer configures a statement right before it executes. One instance
// serves every invocation of its method, so it must not keep per-call state.
type Customizer interface {
	Apply(stmt *Statement) error
}

// CustomizerFunc adapts a function to Customizer.
type CustomizerFunc func(stmt *Statement) error

// Apply implements Customizer.
func (f CustomizerFunc) Apply(stmt *Statement) error { return f(stmt) }

// checker is implemented by the built-in customizers. Both checks run at
// contract build: validate rejects bad values, fits rejects operations the
// customizer does not apply to.
type checker interface {
	validate() error
	fits(op Operation) error
}

// UseMapper selects m as the row mapper of a query method.
func UseMapper(m RowMapper) Customizer { return mapperCustomizer{m: m} }

type mapperCustomizer struct{ m RowMapper }

func (c mapperCustomizer) Apply(stmt *Statement) error {
	stmt.SetMapper(c.m)
	return nil
}

func (c mapperCustomizer) validate() error {
	if c.m == nil {
		return fmt.Errorf("mapper is nil")
	}
	return nil
}

func (c mapperCustomizer) fits(op Operation) error {
	if op != OpQuery {
		return fmt.Errorf("row mapper applies to query methods, not %s", op)
	}
	return nil
}

// MaxFieldSize limits string and []byte result values of a query method to
// n bytes.
func MaxFieldSize(n int) Customizer { return maxFieldSizeCustomizer(n) }

type maxFieldSizeCustomizer int

func (c maxFieldSizeCustomizer) Apply(stmt *Statement) error {
	stmt.SetMaxFieldSize(int(c))
	return nil
}

func (c maxFieldSizeCustomizer) validate() error {
	if c < 0 {
		return fmt.Errorf("max field size %d is negative", int(c))
	}
	return nil
}

func (c maxFieldSizeCustomizer) fits(op Operation) error {
	if op != OpQuery {
		return fmt.Errorf("max field size applies to query methods, not %s", op)
	}
	return nil
}

// ChunkSize sets the number of rows a batch method sends per round trip.
func ChunkSize(n int) Customizer { return chunkSizeCustomizer(n) }

type chunkSizeCustomizer int

func (c chunkSizeCustomizer) Apply(stmt *Statement) error {
	stmt.SetChunkSize(int(c))
	return nil
}

func (c chunkSizeCustomizer) validate() error {
	if c <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", int(c))
	}
	return nil
}

func (c chunkSizeCustomizer) fits(op Operation) error {
	if op != OpBatch {
		return fmt.Errorf("chunk size applies to batch methods, not %s", op)
	}
	return nil
}

// checkCustomizers validates a method's chain at build time.
func checkCustomizers(method string, op Operation, chain []Customizer) error {
	for _, c := range chain {
		if c == nil {
			return configError(method, "nil customizer")
		}
		if ch, ok := c.(checker); ok {
			if err := ch.validate(); err != nil {
				return newError(KindConfiguration, method, err, "invalid customizer")
			}
			if err := ch.fits(op); err != nil {
				return newError(KindConfiguration, method, err, "invalid customizer")
			}
		}
	}
	return nil
}

// applyCustomizers runs chain over stmt in order.
func applyCustomizers(stmt *Statement, chain []Customizer) error {
	for _, c := range chain {
		if err := c.Apply(stmt); err != nil {
			return newError(KindConfiguration, stmt.method, err, "customizer failed")
		}
	}
	return nil
}
