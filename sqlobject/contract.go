package sqlobject

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gaborage/go-sqlobject/internal/reflection"
)

// Operation is the kind of a contract method.
type Operation int

const (
	OpQuery Operation = iota + 1
	OpUpdate
	OpBatch
	// OpClose is the recognized `Close func() error` field.
	OpClose
)

func (o Operation) String() string {
	switch o {
	case OpQuery:
		return "query"
	case OpUpdate:
		return "update"
	case OpBatch:
		return "batch"
	case OpClose:
		return "close"
	default:
		return fmt.Sprintf("operation(%d)", int(o))
	}
}

// Struct tags read from contract fields.
const (
	TagQuery        = "sqlquery"
	TagUpdate       = "sqlupdate"
	TagBatch        = "sqlbatch"
	TagBind         = "bind"
	TagMapper       = "mapper"
	TagMaxFieldSize = "maxfieldsize"
	TagChunk        = "chunk"
	TagCustomize    = "customize"
)

// closeField is the field name recognized as the release method.
const closeField = "Close"

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// shape is how a method's results are produced.
type shape int

const (
	shapeVoid shape = iota
	shapeCount
	shapeOne
	shapeOptional
	shapeList
	shapeIterator
	shapeDeferred
	shapeCounts
)

// methodDescriptor is the option-independent description of one contract
// field. It is immutable once built.
type methodDescriptor struct {
	field    int
	name     string // qualified, "Contract.Field"
	fieldKey string // Go field name
	fn       reflect.Type
	op       Operation

	// template is nil when the tag is empty and WithSQL must supply it.
	template *Template
	hasCtx   bool
	binds    []BindSpec

	shape shape
	// out is the first result type for two-result methods.
	out reflect.Type
	// elem is the row element type of query methods.
	elem reflect.Type

	mapperName   string
	maxFieldSize int
	chunk        int
	customize    []string
}

// contractDescriptor describes one contract struct type.
type contractDescriptor struct {
	typ     reflect.Type
	name    string
	methods []*methodDescriptor
}

var (
	descriptors     sync.Map // reflect.Type -> *contractDescriptor
	describeFlights singleflight.Group
)

// describe returns the cached descriptor of t, building it on first use.
// Concurrent first uses of one type build it once.
func describe(t reflect.Type) (*contractDescriptor, error) {
	if d, ok := descriptors.Load(t); ok {
		return d.(*contractDescriptor), nil
	}
	key := reflection.GetTypeName(t) + "|" + t.String()
	v, err, _ := describeFlights.Do(key, func() (any, error) {
		if d, ok := descriptors.Load(t); ok {
			return d, nil
		}
		d, err := newContractDescriptor(t)
		if err != nil {
			return nil, err
		}
		actual, _ := descriptors.LoadOrStore(t, d)
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	d := v.(*contractDescriptor)
	if d.typ != t {
		// Distinct anonymous types can share a flight key.
		return newContractDescriptor(t)
	}
	return d, nil
}

func newContractDescriptor(t reflect.Type) (*contractDescriptor, error) {
	if t.Kind() != reflect.Struct {
		return nil, configError("", "contract %s must be a struct with func fields", t)
	}
	name := reflection.GetTypeNameShort(t)
	if name == "" {
		name = "contract"
	}
	d := &contractDescriptor{typ: t, name: name}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Type.Kind() != reflect.Func {
			continue
		}
		m, err := describeMethod(name+"."+f.Name, i, f)
		if err != nil {
			return nil, err
		}
		d.methods = append(d.methods, m)
	}
	if len(d.methods) == 0 {
		return nil, configError("", "contract %s declares no methods", t)
	}
	return d, nil
}

func describeMethod(qualified string, index int, f reflect.StructField) (*methodDescriptor, error) {
	m := &methodDescriptor{field: index, name: qualified, fieldKey: f.Name, fn: f.Type}

	var text string
	found := 0
	for _, c := range []struct {
		tag string
		op  Operation
	}{{TagQuery, OpQuery}, {TagUpdate, OpUpdate}, {TagBatch, OpBatch}} {
		if v, ok := f.Tag.Lookup(c.tag); ok {
			m.op, text = c.op, v
			found++
		}
	}
	switch {
	case found > 1:
		return nil, configError(qualified, "only one of %s, %s and %s may be set", TagQuery, TagUpdate, TagBatch)
	case found == 0 && f.Name == closeField:
		if f.Type.NumIn() != 0 || f.Type.NumOut() != 1 || f.Type.Out(0) != errorType {
			return nil, configError(qualified, "close method must be func() error, got %s", f.Type)
		}
		m.op = OpClose
		return m, nil
	case found == 0:
		return nil, configError(qualified, "func field needs a %s, %s or %s tag", TagQuery, TagUpdate, TagBatch)
	}

	if strings.TrimSpace(text) != "" {
		t, err := templates.Parse(text)
		if err != nil {
			return nil, withMethod(err, qualified)
		}
		m.template = t
	}

	if err := m.describeParams(f.Tag); err != nil {
		return nil, err
	}
	if err := m.describeResults(); err != nil {
		return nil, err
	}
	return m, m.describeCustomizations(f.Tag)
}

func (m *methodDescriptor) describeParams(tag reflect.StructTag) error {
	fn := m.fn
	first := 0
	if fn.NumIn() > 0 && fn.In(0) == contextType {
		m.hasCtx = true
		first = 1
	}
	n := fn.NumIn() - first
	for i := first; i < fn.NumIn(); i++ {
		if fn.In(i) == contextType {
			return configError(m.name, "context.Context must be the first parameter")
		}
	}

	entries := make([]string, n)
	if raw, ok := tag.Lookup(TagBind); ok && (raw != "" || n > 0) {
		entries = strings.Split(raw, ",")
		if len(entries) != n {
			return configError(m.name, "bind tag has %d entries for %d parameters", len(entries), n)
		}
	}

	seen := make(map[string]struct{})
	for i, entry := range entries {
		spec, err := ParseBindSpec(entry, i)
		if err != nil {
			return newError(KindConfiguration, m.name, err, "parameter %d", i)
		}
		spec.Type = fn.In(first + i)
		spec.Sole = n == 1
		if spec.Strategy == StrategyNamed {
			if _, dup := seen[spec.Name]; dup {
				return configError(m.name, "bind name %q declared twice", spec.Name)
			}
			seen[spec.Name] = struct{}{}
		}
		m.binds = append(m.binds, spec)
	}
	if m.op == OpBatch && n == 0 {
		return configError(m.name, "batch method needs at least one parameter")
	}
	return nil
}

func (m *methodDescriptor) describeResults() error {
	fn := m.fn
	if fn.NumOut() == 0 || fn.NumOut() > 2 || fn.Out(fn.NumOut()-1) != errorType {
		return configError(m.name, "results must be error or (T, error), got %s", fn)
	}
	if fn.NumOut() == 2 {
		m.out = fn.Out(0)
	}

	switch m.op {
	case OpUpdate:
		switch {
		case m.out == nil:
			m.shape = shapeVoid
		case isCountType(m.out):
			m.shape = shapeCount
		default:
			return configError(m.name, "update methods return error or (int|int64, error), got %s", fn)
		}
	case OpBatch:
		switch {
		case m.out == nil:
			m.shape = shapeVoid
		case m.out.Kind() == reflect.Slice && isCountType(m.out.Elem()):
			m.shape = shapeCounts
		default:
			return configError(m.name, "batch methods return error or ([]int|[]int64, error), got %s", fn)
		}
	case OpQuery:
		if m.out == nil {
			return configError(m.name, "query methods must return (T, error)")
		}
		m.shape, m.elem = queryShape(m.out)
	}
	return nil
}

func isCountType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return true
	}
	return false
}

var (
	iteratorResultType = reflect.TypeFor[iteratorResult]()
	queryResultType    = reflect.TypeFor[queryResult]()
)

func queryShape(out reflect.Type) (shape, reflect.Type) {
	switch {
	case out.Implements(iteratorResultType):
		return shapeIterator, reflect.Zero(out).Interface().(iteratorResult).elemType()
	case out.Implements(queryResultType):
		return shapeDeferred, reflect.Zero(out).Interface().(queryResult).elemType()
	case out.Kind() == reflect.Slice && out.Elem().Kind() != reflect.Uint8:
		return shapeList, out.Elem()
	case out.Kind() == reflect.Pointer:
		return shapeOptional, out.Elem()
	default:
		return shapeOne, out
	}
}

func (m *methodDescriptor) describeCustomizations(tag reflect.StructTag) error {
	m.mapperName = strings.TrimSpace(tag.Get(TagMapper))

	if raw, ok := tag.Lookup(TagMaxFieldSize); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return newError(KindConfiguration, m.name, err, "invalid %s tag", TagMaxFieldSize)
		}
		if n < 0 {
			return configError(m.name, "%s must not be negative", TagMaxFieldSize)
		}
		m.maxFieldSize = n
	}
	if raw, ok := tag.Lookup(TagChunk); ok {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return newError(KindConfiguration, m.name, err, "invalid %s tag", TagChunk)
		}
		if n <= 0 {
			return configError(m.name, "%s must be positive", TagChunk)
		}
		if m.op != OpBatch {
			return configError(m.name, "%s applies to batch methods, not %s", TagChunk, m.op)
		}
		m.chunk = n
	}
	if raw := tag.Get(TagCustomize); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				m.customize = append(m.customize, name)
			}
		}
	}
	return nil
}

// tagCustomizers turns the mapper, maxfieldsize and chunk tags into
// customizers.
func (m *methodDescriptor) tagCustomizers(s *settings) ([]Customizer, error) {
	var chain []Customizer
	if m.mapperName != "" {
		mapper, ok := s.namedMappers[m.mapperName]
		if !ok {
			return nil, configError(m.name, "no mapper registered as %q", m.mapperName)
		}
		chain = append(chain, UseMapper(mapper))
	}
	if m.maxFieldSize > 0 {
		chain = append(chain, MaxFieldSize(m.maxFieldSize))
	}
	if m.chunk > 0 {
		chain = append(chain, ChunkSize(m.chunk))
	}
	return chain, nil
}
