// Package reflection provides the struct introspection shared by the bean
// binder and the default row mapper.
package reflection

import (
	"reflect"
	"strings"
	"sync"
)

// Property is one readable struct property: an exported field, possibly
// promoted from an embedded struct.
type Property struct {
	// Name is the `db` tag name when present, otherwise the Go field name.
	Name  string
	Index []int
	Type  reflect.Type
}

var propertyCache sync.Map // reflect.Type -> []Property

// GetTypeName returns the fully qualified type name
func GetTypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// GetTypeNameShort returns just the type name without package path
func GetTypeNameShort(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Properties lists the readable properties of struct type t (or *t) in field
// order. Embedded structs are flattened; unexported fields and fields tagged
// `db:"-"` are skipped. When an outer field and a promoted field share a name
// the outer one wins. Results are cached per type.
func Properties(t reflect.Type) []Property {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	if v, ok := propertyCache.Load(t); ok {
		return v.([]Property)
	}

	props := collect(t, nil, make(map[string]struct{}))
	actual, _ := propertyCache.LoadOrStore(t, props)
	return actual.([]Property)
}

func collect(t reflect.Type, prefix []int, seen map[string]struct{}) []Property {
	var props, embedded []Property
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		tag, _, _ := strings.Cut(f.Tag.Get("db"), ",")
		if tag == "-" {
			continue
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if f.Anonymous && tag == "" && ft.Kind() == reflect.Struct {
			embedded = append(embedded, collect(ft, index, seen)...)
			continue
		}
		if !f.IsExported() {
			continue
		}

		name := tag
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		props = append(props, Property{Name: name, Index: index, Type: f.Type})
	}
	return append(props, embedded...)
}

// FieldByIndex walks index from v, returning false when a nil embedded
// pointer makes the property absent.
func FieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 {
			for v.Kind() == reflect.Pointer {
				if v.IsNil() {
					return reflect.Value{}, false
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v, true
}

// FieldForWrite is FieldByIndex for assignment: nil embedded pointers on the
// way are allocated.
func FieldForWrite(v reflect.Value, index []int) reflect.Value {
	for i, x := range index {
		if i > 0 {
			for v.Kind() == reflect.Pointer {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v
}

// Indirect dereferences pointers, reporting false for a nil pointer or an
// invalid value.
func Indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}
