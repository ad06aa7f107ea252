package sqlobject

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/internal/reflection"
)

// RowMapper turns the current row of a cursor into one result element.
// MapRow must not advance the cursor.
type RowMapper interface {
	MapRow(rows types.Rows) (any, error)
}

// RowMapperFunc adapts a function to RowMapper.
type RowMapperFunc func(rows types.Rows) (any, error)

// MapRow implements RowMapper.
func (f RowMapperFunc) MapRow(rows types.Rows) (any, error) { return f(rows) }

// MapperFor adapts a typed mapping function to RowMapper.
func MapperFor[T any](fn func(rows types.Rows) (T, error)) RowMapper {
	return RowMapperFunc(func(rows types.Rows) (any, error) {
		return fn(rows)
	})
}

var (
	scannerType  = reflect.TypeFor[sql.Scanner]()
	timeType     = reflect.TypeFor[time.Time]()
	rawBytesType = reflect.TypeFor[sql.RawBytes]()
)

var defaultMappers sync.Map // reflect.Type -> *reflectMapper

// DefaultMapper returns the reflective mapper for t:
//
//   - scalars, time.Time, []byte and sql.Scanner types take the first column
//   - structs match columns to `db` tags or field names, case-insensitively
//     and ignoring underscores; unmatched columns are dropped
//   - map[string]any collects every column
//   - a pointer to any of the above maps the element and returns its address
//
// Other types are an *Error of KindConfiguration.
func DefaultMapper(t reflect.Type) (RowMapper, error) {
	if m, ok := defaultMappers.Load(t); ok {
		return m.(*reflectMapper), nil
	}
	m, err := newReflectMapper(t)
	if err != nil {
		return nil, err
	}
	actual, _ := defaultMappers.LoadOrStore(t, m)
	return actual.(*reflectMapper), nil
}

type mapKind int

const (
	mapWhole mapKind = iota
	mapStruct
	mapMap
)

type reflectMapper struct {
	t    reflect.Type
	kind mapKind
	// fields maps normalized column names to property indexes.
	fields map[string][]int
	plans  sync.Map // column list key -> [][]int (nil entry drops the column)
}

func newReflectMapper(t reflect.Type) (*reflectMapper, error) {
	m := &reflectMapper{t: t}
	switch {
	case scannable(t):
		m.kind = mapWhole
	case t.Kind() == reflect.Struct:
		m.kind = mapStruct
		m.fields = make(map[string][]int)
		for _, p := range reflection.Properties(t) {
			for _, key := range []string{strings.ToLower(p.Name), normalizeColumn(p.Name)} {
				if _, dup := m.fields[key]; !dup {
					m.fields[key] = p.Index
				}
			}
		}
		if len(m.fields) == 0 {
			return nil, configError("", "type %s has no mappable fields", t)
		}
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String && t.Elem().Kind() == reflect.Interface:
		m.kind = mapMap
	case t.Kind() == reflect.Pointer:
		if _, err := newReflectMapper(t.Elem()); err != nil {
			return nil, err
		}
		m.kind = mapWhole
	default:
		return nil, configError("", "no default row mapper for %s", t)
	}
	return m, nil
}

func scannable(t reflect.Type) bool {
	if reflect.PointerTo(t).Implements(scannerType) || t == timeType || t == rawBytesType {
		return true
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
		if reflect.PointerTo(t).Implements(scannerType) || t == timeType {
			return true
		}
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.String:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	case reflect.Interface:
		return t.NumMethod() == 0
	}
	return false
}

// MapRow implements RowMapper.
func (m *reflectMapper) MapRow(rows types.Rows) (any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("query returned no columns")
	}

	dst := reflect.New(m.t).Elem()
	dests := make([]any, len(cols))

	switch m.kind {
	case mapWhole:
		if m.t.Kind() == reflect.Pointer && !scannable(m.t) {
			// Pointer to a struct or map: map the element, then take its address.
			inner, err := DefaultMapper(m.t.Elem())
			if err != nil {
				return nil, err
			}
			v, err := inner.MapRow(rows)
			if err != nil {
				return nil, err
			}
			p := reflect.New(m.t.Elem())
			p.Elem().Set(reflect.ValueOf(v))
			return p.Interface(), nil
		}
		dests[0] = dst.Addr().Interface()
		for i := 1; i < len(dests); i++ {
			dests[i] = new(any)
		}
	case mapStruct:
		plan, err := m.plan(cols)
		if err != nil {
			return nil, err
		}
		for i, index := range plan {
			if index == nil {
				dests[i] = new(any)
				continue
			}
			dests[i] = reflection.FieldForWrite(dst, index).Addr().Interface()
		}
	case mapMap:
		for i := range dests {
			dests[i] = new(any)
		}
	}

	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}

	if m.kind == mapMap {
		out := reflect.MakeMapWithSize(m.t, len(cols))
		for i, c := range cols {
			v := reflect.ValueOf(*(dests[i].(*any)))
			if !v.IsValid() {
				v = reflect.Zero(m.t.Elem())
			}
			out.SetMapIndex(reflect.ValueOf(c).Convert(m.t.Key()), v)
		}
		return out.Interface(), nil
	}
	return dst.Interface(), nil
}

func (m *reflectMapper) plan(cols []string) ([][]int, error) {
	key := strings.Join(cols, "\x00")
	if p, ok := m.plans.Load(key); ok {
		return p.([][]int), nil
	}
	plan := make([][]int, len(cols))
	matched := 0
	for i, c := range cols {
		index, ok := m.fields[strings.ToLower(unquoteColumn(c))]
		if !ok {
			index, ok = m.fields[normalizeColumn(c)]
		}
		if ok {
			plan[i] = index
			matched++
		}
	}
	if matched == 0 {
		return nil, newError(KindResultShape, "", nil, "no column of %v maps to a field of %s", cols, m.t)
	}
	actual, _ := m.plans.LoadOrStore(key, plan)
	return actual.([][]int), nil
}

func unquoteColumn(s string) string {
	if l := len(s); l >= 2 {
		switch {
		case s[0] == '"' && s[l-1] == '"', s[0] == '`' && s[l-1] == '`', s[0] == '[' && s[l-1] == ']':
			return s[1 : l-1]
		}
	}
	return s
}

// normalizeColumn lowercases s and drops underscores so created_at matches
// a CreatedAt field.
func normalizeColumn(s string) string {
	return strings.ReplaceAll(strings.ToLower(unquoteColumn(s)), "_", "")
}

// limitFieldSize truncates string and []byte values in v, or in the fields
// and map entries of v, to n bytes. v is returned unchanged when n <= 0.
func limitFieldSize(v any, n int) any {
	if n <= 0 || v == nil {
		return v
	}
	rv := reflect.ValueOf(v)
	cp := reflect.New(rv.Type()).Elem()
	cp.Set(rv)
	limitValue(cp, n, 0)
	return cp.Interface()
}

func limitValue(v reflect.Value, n, depth int) {
	if depth > 2 {
		return
	}
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() && v.Len() > n {
			v.SetString(truncateUTF8(v.String(), n))
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 && v.CanSet() && v.Len() > n {
			v.Set(v.Slice(0, n))
		}
	case reflect.Pointer:
		if !v.IsNil() && v.CanSet() {
			elem := reflect.New(v.Type().Elem())
			elem.Elem().Set(v.Elem())
			limitValue(elem.Elem(), n, depth+1)
			v.Set(elem)
		}
	case reflect.Struct:
		if v.Type() == timeType {
			return
		}
		for _, p := range reflection.Properties(v.Type()) {
			if f, ok := reflection.FieldByIndex(v, p.Index); ok {
				limitValue(f, n, depth+1)
			}
		}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String || v.IsNil() || !v.CanSet() {
			return
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val := reflect.New(v.Type().Elem()).Elem()
			val.Set(iter.Value())
			if val.Kind() == reflect.Interface && !val.IsNil() {
				inner := reflect.New(val.Elem().Type()).Elem()
				inner.Set(val.Elem())
				limitValue(inner, n, depth+1)
				val.Set(inner)
			} else {
				limitValue(val, n, depth+1)
			}
			out.SetMapIndex(iter.Key(), val)
		}
		v.Set(out)
	}
}

func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
