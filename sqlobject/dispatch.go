package sqlobject

import (
	"context"
	"errors"
	"reflect"
	"sort"

	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/logger"
)

// boundMethod is a methodDescriptor resolved against the options of one
// build: its binders, mapper and customizer chain.
type boundMethod struct {
	*methodDescriptor

	template *Template
	// fixedArgs fill the leading `?` sites; they come from a WithSQL builder.
	fixedArgs    []any
	binders      []Binder
	mapper       RowMapper
	chain        []Customizer
	defaultChunk int
}

func compile(d *contractDescriptor, s *settings) ([]*boundMethod, error) {
	fields := make(map[string]bool, len(d.methods))
	for _, m := range d.methods {
		fields[m.fieldKey] = true
	}
	for _, byField := range []map[string]bool{keys(s.sql), keys(s.methodCustomizers)} {
		for _, f := range sortedKeys(byField) {
			if !fields[f] {
				return nil, configError("", "option names unknown method %s.%s", d.name, f)
			}
		}
	}

	out := make([]*boundMethod, 0, len(d.methods))
	for _, m := range d.methods {
		bm, err := compileMethod(m, s)
		if err != nil {
			return nil, err
		}
		out = append(out, bm)
	}
	return out, nil
}

func compileMethod(m *methodDescriptor, s *settings) (*boundMethod, error) {
	bm := &boundMethod{methodDescriptor: m, template: m.template, defaultChunk: s.chunkSize}
	if m.op == OpClose {
		return bm, nil
	}

	if b, ok := s.sql[m.fieldKey]; ok {
		text, args, err := b.ToSql()
		if err != nil {
			return nil, newError(KindConfiguration, m.name, err, "query builder")
		}
		t, err := templates.Parse(text)
		if err != nil {
			return nil, withMethod(err, m.name)
		}
		if len(args) > t.Positional() {
			return nil, configError(m.name, "query builder produced %d arguments for %d ? sites, use squirrel.Question placeholders",
				len(args), t.Positional())
		}
		bm.template, bm.fixedArgs = t, args
	}
	if bm.template == nil {
		return nil, configError(m.name, "empty SQL template and no WithSQL builder")
	}

	for _, spec := range m.binds {
		spec.Position = spec.Index + len(bm.fixedArgs)
		b, err := s.registry.binderFor(spec)
		if err != nil {
			return nil, withMethod(err, m.name)
		}
		bm.binders = append(bm.binders, b)
	}
	if err := bm.checkBinds(s.strict); err != nil {
		return nil, err
	}

	chain, err := bm.customizers(s)
	if err != nil {
		return nil, err
	}
	bm.chain = chain

	if m.op == OpQuery {
		if mp, ok := s.mappers[m.elem]; ok {
			bm.mapper = mp
		} else if !hasMapper(chain) {
			mp, err := DefaultMapper(m.elem)
			if err != nil {
				return nil, withMethod(err, m.name)
			}
			bm.mapper = mp
		}
	}
	return bm, nil
}

// customizers assembles the chain: contract level, tag derived, customize
// tag names in listed order, then method level. Contract-level built-ins
// that do not fit the operation are skipped; invalid values fail the build
// on every method.
func (bm *boundMethod) customizers(s *settings) ([]Customizer, error) {
	var chain []Customizer
	for _, c := range s.customizers {
		if ch, ok := c.(checker); ok {
			if err := ch.validate(); err != nil {
				return nil, newError(KindConfiguration, bm.name, err, "invalid contract customizer")
			}
			if ch.fits(bm.op) != nil {
				continue
			}
		}
		chain = append(chain, c)
	}
	tagged, err := bm.tagCustomizers(s)
	if err != nil {
		return nil, err
	}
	chain = append(chain, tagged...)
	for _, name := range bm.customize {
		c, ok := s.namedCustomizers[name]
		if !ok {
			return nil, configError(bm.name, "no customizer registered as %q", name)
		}
		chain = append(chain, c)
	}
	chain = append(chain, s.methodCustomizers[bm.fieldKey]...)
	if err := checkCustomizers(bm.name, bm.op, chain); err != nil {
		return nil, err
	}
	return chain, nil
}

func hasMapper(chain []Customizer) bool {
	for _, c := range chain {
		if _, ok := c.(mapperCustomizer); ok {
			return true
		}
	}
	return false
}

// checkBinds matches bind specs against template sites. When every spec is
// named or positional, a site no spec can satisfy fails the build. In strict
// mode a spec matching no site fails too.
func (bm *boundMethod) checkBinds(strict bool) error {
	t := bm.template
	resolvable := true
	named := make(map[string]bool)
	positions := make(map[int]bool)
	for i := range bm.fixedArgs {
		positions[i] = true
	}
	alias := false

	for _, spec := range bm.binds {
		switch spec.Strategy {
		case StrategyNamed:
			named[spec.Name] = true
			if strict && !t.HasName(spec.Name) {
				return configError(bm.name, "bind %q matches no :%s in the template", spec.Name, spec.Name)
			}
		case StrategyPositional:
			positions[spec.Position] = true
			alias = alias || spec.Sole
			if strict && spec.Position >= t.Positional() && !(spec.Sole && t.HasName(ItName)) {
				return configError(bm.name, "parameter %d matches no ? site in the template", spec.Index)
			}
		case StrategyBean:
			resolvable = false
			if strict && spec.Name != "" && !t.HasPrefix(spec.Name+".") {
				return configError(bm.name, "bean prefix %q matches no :%s.* in the template", spec.Name, spec.Name)
			}
		default:
			resolvable = false
		}
	}
	if !resolvable {
		return nil
	}
	for _, name := range t.Names() {
		if !named[name] && !(alias && name == ItName) {
			return bindingError(bm.name, "template references :%s but no parameter binds it", name)
		}
	}
	for i := 0; i < t.Positional(); i++ {
		if !positions[i] {
			return bindingError(bm.name, "no parameter binds ? site %d", i)
		}
	}
	return nil
}

// baseStatement returns a statement carrying the method's settings and the
// fixed builder arguments, with no parameters bound.
func (bm *boundMethod) baseStatement() *Statement {
	stmt := newStatement(bm.name, bm.template)
	stmt.mapper = bm.mapper
	for i, v := range bm.fixedArgs {
		stmt.BindPosition(i, v)
	}
	return stmt
}

func (bm *boundMethod) bind(stmt *Statement, args []any) error {
	for i, b := range bm.binders {
		if err := b.Bind(stmt, args[i]); err != nil {
			var se *Error
			if errors.As(err, &se) {
				return withMethod(err, bm.name)
			}
			return newError(KindBinding, bm.name, err, "parameter %d", i)
		}
	}
	return nil
}

// statement binds args and applies the customizer chain.
func (bm *boundMethod) statement(args []any) (*Statement, error) {
	stmt := bm.baseStatement()
	if err := bm.bind(stmt, args); err != nil {
		return nil, err
	}
	if err := applyCustomizers(stmt, bm.chain); err != nil {
		return nil, err
	}
	return stmt, nil
}

// instance is the state behind one built contract value.
type instance struct {
	name    string
	mode    Mode
	handles handleProvider
	log     logger.Logger
}

func (in *instance) dispatcher(bm *boundMethod) func([]reflect.Value) []reflect.Value {
	return func(params []reflect.Value) []reflect.Value {
		return in.invoke(bm, params)
	}
}

func (in *instance) invoke(bm *boundMethod, params []reflect.Value) []reflect.Value {
	ctx := context.Background()
	if bm.hasCtx {
		if c, ok := params[0].Interface().(context.Context); ok && c != nil {
			ctx = c
		}
		params = params[1:]
	}
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p.Interface()
	}

	switch bm.op {
	case OpClose:
		return bm.results(reflect.Value{}, in.handles.close())
	case OpUpdate:
		n, err := in.update(ctx, bm, args)
		if bm.shape == shapeCount && err == nil {
			return bm.results(reflect.ValueOf(n).Convert(bm.out), nil)
		}
		return bm.results(reflect.Value{}, err)
	case OpBatch:
		counts, err := in.batch(ctx, bm, args)
		if bm.shape == shapeCounts && err == nil {
			return bm.results(convertCounts(counts, bm.out), nil)
		}
		return bm.results(reflect.Value{}, err)
	default:
		v, err := in.query(ctx, bm, args)
		return bm.results(v, err)
	}
}

// results builds the return values; a zero Value yields the zero result.
func (bm *boundMethod) results(v reflect.Value, err error) []reflect.Value {
	out := make([]reflect.Value, 0, 2)
	if bm.fn.NumOut() == 2 {
		if !v.IsValid() || err != nil {
			v = reflect.Zero(bm.out)
		}
		out = append(out, v)
	}
	if err == nil {
		return append(out, reflect.Zero(errorType))
	}
	return append(out, reflect.ValueOf(&err).Elem())
}

func convertCounts(counts []int64, t reflect.Type) reflect.Value {
	out := reflect.MakeSlice(t, len(counts), len(counts))
	for i, n := range counts {
		out.Index(i).Set(reflect.ValueOf(n).Convert(t.Elem()))
	}
	return out
}

func (in *instance) update(ctx context.Context, bm *boundMethod, args []any) (n int64, err error) {
	stmt, err := bm.statement(args)
	if err != nil {
		return 0, err
	}
	h, release, err := in.handles.acquire(ctx, bm.name)
	if err != nil {
		return 0, err
	}
	defer func() { err = in.finish(bm, stmt, err, release) }()

	query, qargs, err := stmt.Render(types.PlaceholderFor(h.Vendor()))
	if err != nil {
		return 0, err
	}
	res, err := h.Exec(ctx, query, qargs...)
	if err != nil {
		return 0, executionError(bm.name, err, "executing update")
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, executionError(bm.name, err, "reading affected rows")
	}
	return n, nil
}

func (in *instance) query(ctx context.Context, bm *boundMethod, args []any) (reflect.Value, error) {
	stmt, err := bm.statement(args)
	if err != nil {
		return reflect.Value{}, err
	}

	if bm.shape == shapeDeferred {
		d := &deferred{stmt: stmt, run: func(ctx context.Context, stmt *Statement, size int) (*cursor, error) {
			return in.openCursor(ctx, bm, stmt, size)
		}}
		q := reflect.New(bm.out.Elem())
		q.Interface().(queryResult).attach(d)
		return q, nil
	}

	c, err := in.openCursor(ctx, bm, stmt, stmt.MaxFieldSize())
	if err != nil {
		return reflect.Value{}, err
	}

	switch bm.shape {
	case shapeIterator:
		it := reflect.New(bm.out.Elem())
		it.Interface().(iteratorResult).attach(c)
		return it, nil
	case shapeList:
		values, err := c.all()
		if err != nil {
			return reflect.Value{}, in.failed(bm, stmt, err)
		}
		list := reflect.MakeSlice(bm.out, 0, len(values))
		for _, v := range values {
			list = reflect.Append(list, elemValue(bm.elem, v))
		}
		return list, nil
	default:
		v, found, err := c.first()
		if err != nil {
			return reflect.Value{}, in.failed(bm, stmt, err)
		}
		if !found {
			if bm.shape == shapeOptional {
				return reflect.Zero(bm.out), nil
			}
			return reflect.Value{}, newError(KindResultShape, bm.name, nil, "query returned no rows")
		}
		if bm.shape == shapeOptional {
			p := reflect.New(bm.elem)
			p.Elem().Set(elemValue(bm.elem, v))
			return p, nil
		}
		return elemValue(bm.elem, v), nil
	}
}

// openCursor acquires a handle and runs stmt. The cursor owns the handle
// release from then on.
func (in *instance) openCursor(ctx context.Context, bm *boundMethod, stmt *Statement, maxFieldSize int) (*cursor, error) {
	h, release, err := in.handles.acquire(ctx, bm.name)
	if err != nil {
		return nil, err
	}
	query, args, err := stmt.Render(types.PlaceholderFor(h.Vendor()))
	if err != nil {
		return nil, in.finish(bm, stmt, err, release)
	}
	rows, err := h.Query(ctx, query, args...)
	if err != nil {
		return nil, in.finish(bm, stmt, executionError(bm.name, err, "executing query"), release)
	}
	mapper := stmt.Mapper()
	if mapper == nil {
		_ = rows.Close()
		return nil, in.finish(bm, stmt, configError(bm.name, "no row mapper for %s", bm.elem), release)
	}
	return &cursor{
		method:       bm.name,
		rows:         rows,
		mapper:       mapper,
		elem:         bm.elem,
		maxFieldSize: maxFieldSize,
		release:      release,
	}, nil
}

// finish releases the handle and reports the first error.
func (in *instance) finish(bm *boundMethod, stmt *Statement, err error, release func() error) error {
	if rerr := release(); rerr != nil && err == nil {
		err = executionError(bm.name, rerr, "releasing handle")
	}
	if err != nil {
		return in.failed(bm, stmt, err)
	}
	return nil
}

// failed logs a failed call with its bound values; the logger masks
// sensitive names.
func (in *instance) failed(bm *boundMethod, stmt *Statement, err error) error {
	l := in.log
	if stmt != nil && len(stmt.named) > 0 {
		l = l.WithFields(stmt.named)
	}
	l.Debug().
		Err(err).
		Str("method", bm.name).
		Str("operation", bm.op.String()).
		Str("mode", in.mode.String()).
		Msg("contract call failed")
	return err
}

func elemValue(t reflect.Type, v any) reflect.Value {
	rv := reflect.New(t).Elem()
	if v != nil {
		rv.Set(reflect.ValueOf(v))
	}
	return rv
}

func keys[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
