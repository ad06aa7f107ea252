package sqlobject

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/go-sqlobject/database"
	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/logger"
)

type SomethingDAO struct {
	Insert   func(ctx context.Context, id int, name string) (int, error)        `sqlupdate:"insert into something (id, name) values (:id, :name)" bind:"id,name"`
	Delete   func(ctx context.Context, id int) error                            `sqlupdate:"delete from something where id = ?"`
	FindName func(ctx context.Context, id int) (string, error)                  `sqlquery:"select name from something where id = :it"`
	Lookup   func(ctx context.Context, id int) (*string, error)                 `sqlquery:"select name from something where id = ?"`
	Names    func(ctx context.Context) ([]string, error)                        `sqlquery:"select name from something order by id"`
	Each     func(ctx context.Context) (*Iterator[Something], error)            `sqlquery:"select id, name from something order by id"`
	From     func(ctx context.Context, min int) (*Query[string], error)         `sqlquery:"select name from something where id >= ?"`
	Get      func(ctx context.Context, id int) (Something, error)               `sqlquery:"select id, name from something where id = ?"`
	Rename   func(ctx context.Context, s Something) (int64, error)              `sqlupdate:"update something set name = :s.name where id = :s.id" bind:"bean:s"`
	Login    func(ctx context.Context, user, password string) (string, error)   `sqlquery:"select id from account where user_name = :user and password = :password" bind:"user,password"`
	Close    func() error
}

const (
	insertSQL  = "insert into something (id, name) values (?, ?)"
	findSQL    = "select name from something where id = ?"
	namesSQL   = "select name from something order by id"
	eachSQL    = "select id, name from something order by id"
	fromSQL    = "select name from something where id >= ?"
	getSQL     = "select id, name from something where id = ?"
	renameSQL  = "update something set name = ? where id = ?"
	loginSQL   = "select id from account where user_name = ? and password = ?"
	dollarFind = "select name from something where id = $1"
)

func newMockHandle(t *testing.T, vendor string) (types.Handle, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	src := database.NewSourceFromDB(db, vendor, logger.Nop(), nil)
	t.Cleanup(func() { _ = src.Close() })

	h, err := src.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h, mock
}

func attachDAO(t *testing.T, opts ...Option) (*SomethingDAO, sqlmock.Sqlmock) {
	t.Helper()
	h, mock := newMockHandle(t, database.Generic)
	dao, err := Attach[SomethingDAO](h, opts...)
	require.NoError(t, err)
	return dao, mock
}

func TestUpdateReturnsAffectedCount(t *testing.T) {
	dao, mock := attachDAO(t)
	ctx := context.Background()

	mock.ExpectExec(insertSQL).WithArgs(1, "Brian").WillReturnResult(sqlmock.NewResult(0, 1))
	n, err := dao.Insert(ctx, 1, "Brian")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mock.ExpectExec("delete from something where id = ?").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, dao.Delete(ctx, 1))

	mock.ExpectExec(renameSQL).WithArgs("Keith", 1).WillReturnResult(sqlmock.NewResult(0, 3))
	affected, err := dao.Rename(ctx, Something{ID: 1, Name: "Keith"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerySingleValue(t *testing.T) {
	dao, mock := attachDAO(t)
	ctx := context.Background()

	mock.ExpectQuery(findSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian"))
	name, err := dao.FindName(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Brian", name)

	mock.ExpectQuery(findSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	_, err = dao.FindName(ctx, 2)
	assert.ErrorIs(t, err, ErrResultShape)

	mock.ExpectQuery(findSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	missing, err := dao.Lookup(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)

	mock.ExpectQuery(findSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian"))
	found, err := dao.Lookup(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Brian", *found)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryListAndStruct(t *testing.T) {
	dao, mock := attachDAO(t)
	ctx := context.Background()

	mock.ExpectQuery(namesSQL).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian").AddRow("Keith"))
	names, err := dao.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brian", "Keith"}, names)

	mock.ExpectQuery(namesSQL).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	names, err = dao.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	mock.ExpectQuery(getSQL).WithArgs(1).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Brian"))
	s, err := dao.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ID)
	assert.Equal(t, "Brian", s.Name)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryIterator(t *testing.T) {
	dao, mock := attachDAO(t)
	ctx := context.Background()

	mock.ExpectQuery(eachSQL).WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
		AddRow(1, "Brian").AddRow(2, "Keith").AddRow(3, "Jane"))
	it, err := dao.Each(ctx)
	require.NoError(t, err)

	var ids []int
	for s := range it.All() {
		ids = append(ids, s.ID)
		if s.ID == 2 {
			break
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int{1, 2}, ids)
	assert.False(t, it.Next())
	assert.NoError(t, it.Close())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeferredQuery(t *testing.T) {
	dao, mock := attachDAO(t)
	ctx := context.Background()

	q, err := dao.From(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "select name from something where id >= ?", q.SQL())
	// Nothing runs until a terminal method is called.
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery(fromSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian").AddRow("Keith"))
	names, err := q.SetMaxFieldSize(2).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Br", "Ke"}, names)

	mock.ExpectQuery(fromSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	first, err := q.FirstOrNil(ctx)
	require.NoError(t, err)
	assert.Nil(t, first)

	mock.ExpectQuery(fromSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	_, err = q.First(ctx)
	assert.ErrorIs(t, err, ErrResultShape)

	mock.ExpectQuery(fromSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Jane"))
	it, err := q.Iterate(ctx)
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, "Ja", it.Value())
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeferredQueryOverridesMethodFieldSize(t *testing.T) {
	dao, mock := attachDAO(t, WithMethodCustomizers("From", MaxFieldSize(3)))
	ctx := context.Background()

	q, err := dao.From(ctx, 2)
	require.NoError(t, err)

	mock.ExpectQuery(fromSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian"))
	names, err := q.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bri"}, names)

	mock.ExpectQuery(fromSQL).WithArgs(2).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian"))
	names, err = q.SetMaxFieldSize(0).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brian"}, names)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionErrorWrapsDriverError(t *testing.T) {
	dao, mock := attachDAO(t)
	boom := errors.New("duplicate key")

	mock.ExpectExec(insertSQL).WithArgs(1, "Brian").WillReturnError(boom)
	_, err := dao.Insert(context.Background(), 1, "Brian")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, boom)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "SomethingDAO.Insert", se.Method)

	mock.ExpectQuery(namesSQL).WillReturnError(boom)
	_, err = dao.Names(context.Background())
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailedCallLogMasksSensitiveBinds(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", false, logger.DefaultFilterConfig())
	dao, mock := attachDAO(t, WithLogger(log))

	mock.ExpectQuery(loginSQL).WithArgs("brian", "hunter2").WillReturnError(errors.New("timeout"))
	_, err := dao.Login(context.Background(), "brian", "hunter2")
	require.ErrorIs(t, err, ErrExecution)

	out := buf.String()
	assert.Contains(t, out, "contract call failed")
	assert.Contains(t, out, "SomethingDAO.Login")
	assert.Contains(t, out, `"user":"brian"`)
	assert.NotContains(t, out, "hunter2")
}

func TestPlaceholdersFollowVendor(t *testing.T) {
	h, mock := newMockHandle(t, database.PostgreSQL)
	dao, err := Attach[SomethingDAO](h)
	require.NoError(t, err)

	mock.ExpectQuery(dollarFind).WithArgs(7).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian"))
	name, err := dao.FindName(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Brian", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type FilteredDAO struct {
	Active func(ctx context.Context, min int) ([]string, error) `sqlquery:""`
	Short  func(ctx context.Context) ([]Something, error)        `sqlquery:"select id, name from something" customize:"short"`
	Custom func(ctx context.Context) ([]Something, error)        `sqlquery:"select id, name from something where id = 1"`
}

func TestBuilderCustomizersAndMappers(t *testing.T) {
	h, mock := newMockHandle(t, database.Generic)
	upper := MapperFor(func(rows types.Rows) (Something, error) {
		var s Something
		err := rows.Scan(&s.ID, &s.Name)
		s.Name = strings.ToUpper(s.Name)
		return s, err
	})

	dao, err := Attach[FilteredDAO](h,
		WithSQL("Active", squirrel.Select("name").From("something").
			Where(squirrel.Eq{"active": true}).
			Where("id > ?")),
		WithNamedCustomizer("short", MaxFieldSize(3)),
		WithMethodCustomizers("Custom", UseMapper(upper)),
	)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectQuery("SELECT name FROM something WHERE active = ? AND id > ?").
		WithArgs(true, 5).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Brian"))
	names, err := dao.Active(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"Brian"}, names)

	mock.ExpectQuery("select id, name from something").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Brian"))
	short, err := dao.Short(ctx)
	require.NoError(t, err)
	require.Len(t, short, 1)
	assert.Equal(t, "Bri", short[0].Name)

	mock.ExpectQuery("select id, name from something where id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Brian"))
	custom, err := dao.Custom(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Something{{ID: 1, Name: "BRIAN"}}, custom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithMapperReplacesDefaultForType(t *testing.T) {
	h, mock := newMockHandle(t, database.Generic)
	calls := 0
	dao, err := Attach[SomethingDAO](h, WithMapper[string](MapperFor(func(rows types.Rows) (string, error) {
		calls++
		var s string
		err := rows.Scan(&s)
		return "<" + s + ">", err
	})))
	require.NoError(t, err)

	mock.ExpectQuery(namesSQL).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a").AddRow("b"))
	names, err := dao.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"<a>", "<b>"}, names)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapperTypeMismatchIsResultShapeError(t *testing.T) {
	h, mock := newMockHandle(t, database.Generic)
	wrong := RowMapperFunc(func(types.Rows) (any, error) { return 42, nil })
	dao, err := Attach[SomethingDAO](h, WithMapper[string](wrong))
	require.NoError(t, err)

	mock.ExpectQuery(namesSQL).WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("a"))
	_, err = dao.Names(context.Background())
	assert.ErrorIs(t, err, ErrResultShape)
	assert.NoError(t, mock.ExpectationsWereMet())
}
