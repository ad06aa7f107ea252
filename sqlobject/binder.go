package sqlobject

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gaborage/go-sqlobject/internal/reflection"
)

// Binder writes one argument into a statement.
type Binder interface {
	Bind(stmt *Statement, arg any) error
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(stmt *Statement, arg any) error

// Bind implements Binder.
func (f BinderFunc) Bind(stmt *Statement, arg any) error { return f(stmt, arg) }

// Strategy is the binding strategy declared for a parameter.
type Strategy int

const (
	// StrategyPositional binds to the `?` site with the parameter's ordinal.
	StrategyPositional Strategy = iota
	// StrategyNamed binds to :Name.
	StrategyNamed
	// StrategyBean binds each readable property of a struct or map.
	StrategyBean
	// StrategyCustom delegates to a registered BinderFactory.
	StrategyCustom
)

func (s Strategy) String() string {
	switch s {
	case StrategyPositional:
		return "positional"
	case StrategyNamed:
		return "named"
	case StrategyBean:
		return "bean"
	case StrategyCustom:
		return "custom"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ItName is the name a method's only parameter is also bound under when it
// uses the positional strategy.
const ItName = "it"

// BindSpec is the binding declared for one non-context parameter.
type BindSpec struct {
	// Index is the ordinal among non-context parameters.
	Index int
	// Position is the zero-based `?` site a positional binding writes to.
	// It equals Index unless leading sites are filled by a query builder.
	Position int
	Strategy Strategy
	// Name is the bind name (named), property prefix (bean) or the explicit
	// bind name handed to a custom binder.
	Name string
	// Factory names the registered BinderFactory of a custom binding.
	Factory string
	// Type is the declared parameter type.
	Type reflect.Type
	// Sole is set when this is the method's only parameter.
	Sole bool
}

// ParseBindSpec parses one entry of a `bind` tag:
//
//	name                      named
//	"" or ?                   positional
//	bean, bean:<prefix>       struct or map properties
//	binder:<factory>[:<name>] registered custom binder
func ParseBindSpec(entry string, index int) (BindSpec, error) {
	entry = strings.TrimSpace(entry)
	spec := BindSpec{Index: index, Position: index}

	switch {
	case entry == "" || entry == "?":
		spec.Strategy = StrategyPositional
	case entry == "bean":
		spec.Strategy = StrategyBean
	case strings.HasPrefix(entry, "bean:"):
		spec.Strategy = StrategyBean
		spec.Name = strings.TrimPrefix(entry, "bean:")
		if !validBindName(spec.Name) {
			return spec, fmt.Errorf("invalid bean prefix %q", spec.Name)
		}
	case strings.HasPrefix(entry, "binder:"):
		spec.Strategy = StrategyCustom
		factory, name, _ := strings.Cut(strings.TrimPrefix(entry, "binder:"), ":")
		if factory == "" {
			return spec, fmt.Errorf("binder entry %q names no factory", entry)
		}
		if name != "" && !validBindName(name) {
			return spec, fmt.Errorf("invalid bind name %q", name)
		}
		spec.Factory, spec.Name = factory, name
	default:
		if !validBindName(entry) {
			return spec, fmt.Errorf("invalid bind name %q", entry)
		}
		spec.Strategy = StrategyNamed
		spec.Name = entry
	}
	return spec, nil
}

func validBindName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && (r == '.' || r >= '0' && r <= '9'):
		default:
			return false
		}
	}
	return true
}

type namedBinder struct{ name string }

func (b namedBinder) Bind(stmt *Statement, arg any) error {
	stmt.Bind(b.name, arg)
	return nil
}

type positionalBinder struct {
	position int
	alias    bool
}

func (b positionalBinder) Bind(stmt *Statement, arg any) error {
	stmt.BindPosition(b.position, arg)
	if b.alias {
		stmt.Bind(ItName, arg)
	}
	return nil
}

type beanBinder struct{ prefix string }

func (b beanBinder) Bind(stmt *Statement, arg any) error {
	return BindBean(stmt, b.prefix, arg)
}

// BindBean binds every readable property of arg under "<prefix>.<property>",
// or "<property>" when prefix is empty. Structs contribute exported fields
// (named by `db` tag, else field name, embedded structs flattened) and maps
// with string keys contribute their entries. A nil arg binds nothing and a
// property behind a nil embedded pointer is skipped.
func BindBean(stmt *Statement, prefix string, arg any) error {
	v, ok := reflection.Indirect(reflect.ValueOf(arg))
	if !ok {
		return nil
	}
	key := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}

	switch v.Kind() {
	case reflect.Struct:
		for _, p := range reflection.Properties(v.Type()) {
			f, present := reflection.FieldByIndex(v, p.Index)
			if !present {
				continue
			}
			stmt.Bind(key(p.Name), f.Interface())
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return bindingError(stmt.method, "bean binding needs string map keys, got %s", v.Type())
		}
		iter := v.MapRange()
		for iter.Next() {
			stmt.Bind(key(iter.Key().String()), iter.Value().Interface())
		}
		return nil
	default:
		return bindingError(stmt.method, "bean binding needs a struct or map, got %T", arg)
	}
}
