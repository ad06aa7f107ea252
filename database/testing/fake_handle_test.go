package testing

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-sqlobject/database/types"
)

type something struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

func TestFakeHandleQuery(t *testing.T) {
	h := NewFakeHandle(types.PostgreSQL)
	h.ExpectQuery("select id, name from something").
		WillReturnRows(NewRowSet("id", "name").AddRow(1, "Brian").AddRow(int32(2), "Keith"))

	rows, err := h.Query(context.Background(), "select id, name from something order by id", 7)
	require.NoError(t, err)
	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)

	var got []something
	for rows.Next() {
		var s something
		require.NoError(t, rows.Scan(&s.ID, &s.Name))
		got = append(got, s)
	}
	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []something{{1, "Brian"}, {2, "Keith"}}, got)

	log := h.QueryLog()
	require.Len(t, log, 1)
	assert.Equal(t, []any{7}, log[0].Args)
}

func TestFakeHandleQueryErrors(t *testing.T) {
	h := NewFakeHandle(types.Generic)
	_, err := h.Query(context.Background(), "select 1")
	assert.ErrorContains(t, err, "unexpected query")

	boom := errors.New("boom")
	h.ExpectQuery("select 2").WillReturnError(boom)
	_, err = h.Query(context.Background(), "select 2")
	assert.ErrorIs(t, err, boom)

	h.ExpectQuery("select 3")
	_, err = h.Query(context.Background(), "select 3")
	assert.ErrorContains(t, err, "no rows configured")
}

func TestFakeHandleExecAndPrepare(t *testing.T) {
	h := NewFakeHandle(types.Generic).StrictSQLMatching()
	h.ExpectExec("insert into something (id, name) values (?, ?)").WillReturnRowsAffected(1)

	stmt, err := h.Prepare(context.Background(), "insert into something (id, name) values (?, ?)")
	require.NoError(t, err)
	res, err := stmt.Exec(context.Background(), 1, "Brian")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)
	require.NoError(t, stmt.Close())

	_, err = h.Exec(context.Background(), "insert into something")
	assert.ErrorContains(t, err, "unexpected exec")

	assert.Equal(t, []string{"insert into something (id, name) values (?, ?)"}, h.Prepared())
	assert.Len(t, h.ExecLog(), 2)
}

func TestFakeHandleBatch(t *testing.T) {
	h := NewFakeHandle(types.PostgreSQL)
	boom := errors.New("chunk failed")
	h.ExpectBatch("insert into something").WillReturnRowsAffected(2).WillFailOnChunk(1, boom)

	counts, err := h.ExecBatch(context.Background(), "insert into something values ($1)", [][]any{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 2}, counts)

	_, err = h.ExecBatch(context.Background(), "insert into something values ($1)", [][]any{{3}})
	assert.ErrorIs(t, err, boom)

	log := h.BatchLog()
	require.Len(t, log, 2)
	assert.Equal(t, [][]any{{1}, {2}}, log[0].Rows)
}

func TestFakeHandleTransactionsAndClose(t *testing.T) {
	h := NewFakeHandle(types.Oracle)
	tx, err := h.Begin(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Error(t, tx.Rollback())

	tx, err = h.Begin(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, 1, h.Commits())
	assert.Equal(t, 1, h.Rollbacks())

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.True(t, h.Closed())
	assert.Equal(t, 2, h.CloseCount())
	_, err = h.Exec(context.Background(), "x")
	assert.Error(t, err)
}

func TestWithoutBatch(t *testing.T) {
	h := NewFakeHandle(types.Generic)
	plain := h.WithoutBatch()
	_, ok := plain.(types.BatchExecutor)
	assert.False(t, ok)
	assert.Equal(t, h.ID(), plain.ID())
}

func TestFakeSource(t *testing.T) {
	src := NewFakeSource(types.PostgreSQL)
	src.Backend.ExpectExec("delete").WillReturnRowsAffected(3)

	h1, err := src.Open(context.Background())
	require.NoError(t, err)
	h2, err := src.Open(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, 2, src.Outstanding())

	_, err = h1.Exec(context.Background(), "delete from t")
	require.NoError(t, err)
	require.NoError(t, h1.Close())
	require.NoError(t, h1.Close())
	require.NoError(t, h2.Close())

	assert.Equal(t, 2, src.Opens())
	assert.Equal(t, 2, src.Closes())
	assert.Equal(t, 0, src.Outstanding())
	assert.Len(t, src.Backend.ExecLog(), 1)
	assert.False(t, src.Backend.Closed())

	src.NoBatch = true
	h3, err := src.Open(context.Background())
	require.NoError(t, err)
	_, ok := h3.(types.BatchExecutor)
	assert.False(t, ok)

	src.OpenErr = errors.New("pool exhausted")
	_, err = src.Open(context.Background())
	assert.Error(t, err)
}

func TestRowSetConversions(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	name := "ptr"
	var nilName *string
	rs := NewRowSet("a", "b", "c", "d", "e").AddRow(uint16(7), &name, nilName, []byte("raw"), now)

	rows, err := rs.Rows()
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next())
	var (
		a int64
		b string
		c sql.NullString
		d []byte
		e time.Time
	)
	require.NoError(t, rows.Scan(&a, &b, &c, &d, &e))
	assert.Equal(t, int64(7), a)
	assert.Equal(t, "ptr", b)
	assert.False(t, c.Valid)
	assert.Equal(t, []byte("raw"), d)
	assert.True(t, now.Equal(e))
	assert.False(t, rows.Next())
}

func TestRowSetFromStructs(t *testing.T) {
	assert.Panics(t, func() { NewRowSet("missing").AddRowsFromStructs(something{}) })
	assert.Panics(t, func() { NewRowSet("a").AddRow(1, 2) })

	rs := NewRowSet("ID", "name").
		AddRowsFromStructs(&something{ID: 1, Name: "x"}).
		AddRows(2, func(i int) []any { return []any{int64(i + 10), "gen"} })
	assert.Equal(t, 3, rs.RowCount())
	assert.Equal(t, []string{"ID", "name"}, rs.Columns())

	rows, err := rs.Rows()
	require.NoError(t, err)
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		var n string
		require.NoError(t, rows.Scan(&id, &n))
		ids = append(ids, id)
	}
	assert.Equal(t, []int64{1, 10, 11}, ids)
}
