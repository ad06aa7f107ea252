package sqlobject

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/internal/sqllex"
)

func TestParseNamesAndPositional(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		names      []string
		positional int
	}{
		{"named", "insert into t(id, name) values (:id, :name)", []string{"id", "name"}, 0},
		{"positional", "select name from t where id = ? and age > ?", nil, 2},
		{"repeated", "select * from t where id = :id or parent = :id", []string{"id"}, 0},
		{"dotted", "insert into t values (:s.id, :s.name)", []string{"s.id", "s.name"}, 0},
		{"quoted literal", "select ':skip', '?' from t where a = :a", []string{"a"}, 0},
		{"quoted identifier", `select "weird:col?" from t where a = ?`, nil, 1},
		{"comments", "select 1 -- :no ?\n/* :nope ? */ where b = :b", []string{"b"}, 0},
		{"cast", "select :v::int", []string{"v"}, 0},
		{"mixed", "update t set a = ? where id = :id", []string{"id"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.names, tmpl.Names())
			assert.Equal(t, tt.positional, tmpl.Positional())
			assert.Equal(t, tt.text, tmpl.Text())
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	const text = "select a, ':x' from t where id = :id and b in (?, ?) -- :c\n and d = :d"
	first, err := Parse(text)
	require.NoError(t, err)
	second, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, first.Tokens(), second.Tokens())

	var rebuilt string
	for _, tok := range first.Tokens() {
		switch tok.Kind {
		case sqllex.Named:
			rebuilt += ":" + tok.Value
		default:
			rebuilt += tok.Value
		}
	}
	assert.Equal(t, text, rebuilt)
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"select * from t where id = :1",
		"select 'unterminated",
		"select 1 /* open",
	} {
		_, err := Parse(text)
		require.Error(t, err, text)
		assert.ErrorIs(t, err, ErrTemplate)

		var lexErr *sqllex.Error
		assert.True(t, errors.As(err, &lexErr), text)
	}
}

func TestRenderStyles(t *testing.T) {
	tmpl, err := Parse("select * from t where id = :id and name = :name or parent = :id and x = ?")
	require.NoError(t, err)
	stmt := newStatement("T.M", tmpl).Bind("id", 1).Bind("name", "Brian").BindPosition(0, true)

	query, args, err := stmt.Render(types.PlaceholderQuestion)
	require.NoError(t, err)
	assert.Equal(t, "select * from t where id = ? and name = ? or parent = ? and x = ?", query)
	assert.Equal(t, []any{1, "Brian", 1, true}, args)

	query, args, err = stmt.Render(types.PlaceholderDollar)
	require.NoError(t, err)
	assert.Equal(t, "select * from t where id = $1 and name = $2 or parent = $1 and x = $3", query)
	assert.Equal(t, []any{1, "Brian", true}, args)

	query, _, err = stmt.Render(types.PlaceholderColon)
	require.NoError(t, err)
	assert.Equal(t, "select * from t where id = :1 and name = :2 or parent = :1 and x = :3", query)
}

func TestRenderKeepsEscapedOperatorsAndSlices(t *testing.T) {
	tmpl, err := Parse(`select tags[1:2] from t where doc \? 'k' and id = :id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, tmpl.Names())
	assert.Equal(t, 0, tmpl.Positional())

	query, args, err := newStatement("T.M", tmpl).Bind("id", 7).Render(types.PlaceholderDollar)
	require.NoError(t, err)
	assert.Equal(t, "select tags[1:2] from t where doc ? 'k' and id = $1", query)
	assert.Equal(t, []any{7}, args)
}

func TestRenderMissingValues(t *testing.T) {
	tmpl, err := Parse("select * from t where id = :id and b = ?")
	require.NoError(t, err)

	_, _, err = newStatement("T.M", tmpl).BindPosition(0, 1).Render(types.PlaceholderQuestion)
	assert.ErrorIs(t, err, ErrBinding)
	assert.Contains(t, err.Error(), ":id")
	assert.Contains(t, err.Error(), "T.M")

	_, _, err = newStatement("T.M", tmpl).Bind("id", 1).Render(types.PlaceholderQuestion)
	assert.ErrorIs(t, err, ErrBinding)
}

func TestLookupFallsBackToCaseInsensitive(t *testing.T) {
	tmpl, err := Parse("select :name")
	require.NoError(t, err)
	stmt := newStatement("T.M", tmpl).Bind("Name", "x")
	_, args, err := stmt.Render(types.PlaceholderQuestion)
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, args)
}

func TestLookupCaseCollisionIsDeterministic(t *testing.T) {
	stmt := newStatement("T.M", nil).Bind("Name", "field").Bind("NAME", "upper").Bind("nAme", "mixed")
	for range 50 {
		v, ok := stmt.Lookup("name")
		require.True(t, ok)
		assert.Equal(t, "upper", v)
	}

	v, ok := stmt.Lookup("Name")
	require.True(t, ok)
	assert.Equal(t, "field", v)
}

func TestTemplateCache(t *testing.T) {
	cache, err := NewTemplateCache(2)
	require.NoError(t, err)

	a, err := cache.Parse("select :a")
	require.NoError(t, err)
	again, err := cache.Parse("select :a")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = cache.Parse("select :1")
	require.Error(t, err)
	assert.Equal(t, 1, cache.Len())

	_, _ = cache.Parse("select :b")
	_, _ = cache.Parse("select :c")
	assert.Equal(t, 2, cache.Len())

	cache.Resize(1)
	assert.Equal(t, 1, cache.Len())
}
