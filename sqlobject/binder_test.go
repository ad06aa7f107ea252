package sqlobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Audit struct {
	CreatedBy string `db:"created_by"`
}

type Something struct {
	ID     int    `db:"id"`
	Name   string `db:"name"`
	Secret string `db:"-"`
	hidden string
	*Audit
}

func TestParseBindSpec(t *testing.T) {
	tests := []struct {
		entry   string
		want    BindSpec
		wantErr bool
	}{
		{entry: "", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyPositional}},
		{entry: "?", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyPositional}},
		{entry: " id ", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyNamed, Name: "id"}},
		{entry: "s.id", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyNamed, Name: "s.id"}},
		{entry: "bean", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyBean}},
		{entry: "bean:s", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyBean, Name: "s"}},
		{entry: "binder:upper", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyCustom, Factory: "upper"}},
		{entry: "binder:upper:name", want: BindSpec{Index: 2, Position: 2, Strategy: StrategyCustom, Factory: "upper", Name: "name"}},
		{entry: "bean:", wantErr: true},
		{entry: "binder:", wantErr: true},
		{entry: "binder:x:1bad", wantErr: true},
		{entry: "1abc", wantErr: true},
		{entry: "a-b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			got, err := ParseBindSpec(tt.entry, 2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBindBeanWithPrefix(t *testing.T) {
	tmpl, err := Parse("insert into t values (:s.id, :s.name)")
	require.NoError(t, err)
	stmt := newStatement("T.Insert", tmpl)

	require.NoError(t, BindBean(stmt, "s", Something{ID: 7, Name: "X", Secret: "no"}))

	v, ok := stmt.Lookup("s.id")
	require.True(t, ok)
	assert.Equal(t, 7, v)
	v, ok = stmt.Lookup("s.name")
	require.True(t, ok)
	assert.Equal(t, "X", v)

	// Unreadable and absent properties are skipped.
	_, ok = stmt.Lookup("s.Secret")
	assert.False(t, ok)
	_, ok = stmt.Lookup("s.hidden")
	assert.False(t, ok)
	_, ok = stmt.Lookup("s.created_by")
	assert.False(t, ok)
}

func TestBindBeanWithoutPrefix(t *testing.T) {
	stmt := newStatement("T.Insert", nil)
	require.NoError(t, BindBean(stmt, "", &Something{ID: 1, Audit: &Audit{CreatedBy: "me"}}))

	v, ok := stmt.Lookup("created_by")
	require.True(t, ok)
	assert.Equal(t, "me", v)
	v, ok = stmt.Lookup("id")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestBindBeanMapsAndNil(t *testing.T) {
	stmt := newStatement("T.Insert", nil)
	require.NoError(t, BindBean(stmt, "m", map[string]any{"id": 3}))
	v, ok := stmt.Lookup("m.id")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	var nilPtr *Something
	require.NoError(t, BindBean(stmt, "n", nilPtr))
	require.NoError(t, BindBean(stmt, "n", nil))

	err := BindBean(stmt, "x", map[int]string{1: "a"})
	assert.ErrorIs(t, err, ErrBinding)
	err = BindBean(stmt, "x", 42)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestBuiltinBinders(t *testing.T) {
	stmt := newStatement("T.M", nil)

	require.NoError(t, namedBinder{name: "id"}.Bind(stmt, 5))
	require.NoError(t, positionalBinder{position: 1, alias: true}.Bind(stmt, "p"))

	v, _ := stmt.Lookup("id")
	assert.Equal(t, 5, v)
	v, _ = stmt.Position(1)
	assert.Equal(t, "p", v)
	v, _ = stmt.Lookup(ItName)
	assert.Equal(t, "p", v)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	upper := BinderFunc(func(stmt *Statement, arg any) error {
		stmt.Bind("upper", arg)
		return nil
	})
	require.NoError(t, r.RegisterBinder("upper", upper))
	assert.Error(t, r.RegisterBinder("upper", upper))
	assert.Error(t, r.Register("", nil))
	assert.Equal(t, []string{"upper"}, r.Names())

	f, err := r.Resolve(BindSpec{Strategy: StrategyCustom, Factory: "upper"})
	require.NoError(t, err)
	b, err := f.Build(BindSpec{})
	require.NoError(t, err)
	stmt := newStatement("T.M", nil)
	require.NoError(t, b.Bind(stmt, "x"))
	v, _ := stmt.Lookup("upper")
	assert.Equal(t, "x", v)

	_, err = r.Resolve(BindSpec{Strategy: StrategyCustom, Factory: "missing"})
	assert.ErrorIs(t, err, ErrConfiguration)

	for _, s := range []Strategy{StrategyNamed, StrategyPositional, StrategyBean} {
		_, err := r.Resolve(BindSpec{Strategy: s})
		assert.NoError(t, err, s.String())
	}
}
