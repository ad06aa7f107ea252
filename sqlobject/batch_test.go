package sqlobject

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbtest "github.com/gaborage/go-sqlobject/database/testing"
	"github.com/gaborage/go-sqlobject/database/types"
)

type BatchDAO struct {
	Insert    func(ctx context.Context, ids []int, names []string) ([]int64, error) `sqlbatch:"insert into something (id, name) values (:id, :name)" bind:"id,name" chunk:"2"`
	InsertOne func(ctx context.Context, ids []int, names []string) ([]int, error)   `sqlbatch:"insert into something (id, name) values (:id, :name)" bind:"id,name" chunk:"1"`
	InsertAll func(ctx context.Context, ids []int, names []string) error            `sqlbatch:"insert into something (id, name) values (:id, :name)" bind:"id,name"`
	Tag       func(ctx context.Context, ids []int, tag string) ([]int64, error)     `sqlbatch:"update something set tag = :tag where id = :id" bind:"id,tag"`
	Save      func(ctx context.Context, rows []Something) ([]int64, error)          `sqlbatch:"insert into something (id, name) values (:s.id, :s.name)" bind:"bean:s"`
	SaveAny   func(ctx context.Context, rows []any) error                           `sqlbatch:"insert into something (id, name) values (:s.id, :s.name)" bind:"bean:s"`
	Remove    func(ctx context.Context, ids []int) ([]int64, error)                 `sqlbatch:"delete from something where id = ?"`
	Purge     func(ctx context.Context, ids *Iterator[int]) ([]int64, error)        `sqlbatch:"delete from something where id = ?"`
	Retag     func(ctx context.Context, tag string) error                           `sqlbatch:"update something set tag = ?"`
	Ids       func(ctx context.Context) (*Iterator[int], error)                     `sqlquery:"select id from stale"`
}

const (
	batchInsertSQL = "insert into something (id, name) values (?, ?)"
	batchDeleteSQL = "delete from something where id = ?"
)

func attachBatch(t *testing.T, opts ...Option) (*BatchDAO, *dbtest.FakeHandle) {
	t.Helper()
	h := dbtest.NewFakeHandle(types.Generic)
	dao, err := Attach[BatchDAO](h, opts...)
	require.NoError(t, err)
	return dao, h
}

func chunkSizes(calls []dbtest.BatchCall) []int {
	out := make([]int, len(calls))
	for i, c := range calls {
		out[i] = len(c.Rows)
	}
	return out
}

func TestBatchSplitsRowsIntoChunks(t *testing.T) {
	dao, h := attachBatch(t)
	h.ExpectBatch("insert into something")

	counts, err := dao.Insert(context.Background(), []int{1, 2, 3}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1}, counts)

	calls := h.BatchLog()
	require.Len(t, calls, 2)
	assert.Equal(t, []int{2, 1}, chunkSizes(calls))
	assert.Equal(t, batchInsertSQL, calls[0].SQL)
	assert.Equal(t, [][]any{{1, "a"}, {2, "b"}}, calls[0].Rows)
	assert.Equal(t, [][]any{{3, "c"}}, calls[1].Rows)
}

func TestBatchChunkOfOneAndUnbounded(t *testing.T) {
	dao, h := attachBatch(t)
	h.ExpectBatch("insert into something").WillReturnRowsAffected(2)

	counts, err := dao.InsertOne(context.Background(), []int{1, 2, 3}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, counts)
	assert.Equal(t, []int{1, 1, 1}, chunkSizes(h.BatchLog()))

	dao, h = attachBatch(t)
	h.ExpectBatch("insert into something")
	require.NoError(t, dao.InsertAll(context.Background(), []int{1, 2, 3}, []string{"a", "b", "c"}))
	assert.Equal(t, []int{3}, chunkSizes(h.BatchLog()))
}

func TestBatchDefaultChunkSize(t *testing.T) {
	dao, h := attachBatch(t, WithChunkSize(2))
	h.ExpectBatch("insert into something")
	require.NoError(t, dao.InsertAll(context.Background(), []int{1, 2, 3, 4, 5}, []string{"a", "b", "c", "d", "e"}))
	assert.Equal(t, []int{2, 2, 1}, chunkSizes(h.BatchLog()))

	// Method customizers win over the default.
	dao, h = attachBatch(t, WithChunkSize(2), WithMethodCustomizers("InsertAll", ChunkSize(4)))
	h.ExpectBatch("insert into something")
	require.NoError(t, dao.InsertAll(context.Background(), []int{1, 2, 3, 4, 5}, []string{"a", "b", "c", "d", "e"}))
	assert.Equal(t, []int{4, 1}, chunkSizes(h.BatchLog()))
}

func TestContractCustomizersSkipOtherOperations(t *testing.T) {
	// ChunkSize does not fit the query method Ids; it is skipped there.
	dao, h := attachBatch(t, WithCustomizers(ChunkSize(1)))
	h.ExpectBatch("insert into something")

	require.NoError(t, dao.InsertAll(context.Background(), []int{1, 2}, []string{"a", "b"}))
	assert.Equal(t, []int{1, 1}, chunkSizes(h.BatchLog()))

	// The chunk tag is applied after contract customizers.
	_, err := dao.Insert(context.Background(), []int{1, 2, 3}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2, 1}, chunkSizes(h.BatchLog()))
}

func TestBatchLengthMismatchFailsBeforeExecution(t *testing.T) {
	src := dbtest.NewFakeSource(types.Generic)
	dao, err := OnDemand[BatchDAO](src)
	require.NoError(t, err)
	src.Backend.ExpectBatch("insert into something")

	_, err = dao.Insert(context.Background(), []int{1, 2, 3}, []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinding)
	assert.Contains(t, err.Error(), "differ in length")
	assert.Empty(t, src.Backend.BatchLog())
	assert.Equal(t, 0, src.Opens())
}

func TestBatchRowBindErrorFailsBeforeExecution(t *testing.T) {
	dao, h := attachBatch(t)
	h.ExpectBatch("insert into something")

	err := dao.SaveAny(context.Background(), []any{Something{ID: 1, Name: "a"}, 42})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBinding)
	assert.Contains(t, err.Error(), "row 1")
	assert.Empty(t, h.BatchLog())
}

func TestBatchBroadcastsScalars(t *testing.T) {
	dao, h := attachBatch(t)
	h.ExpectBatch("update something set tag")

	counts, err := dao.Tag(context.Background(), []int{1, 2}, "x")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)

	calls := h.BatchLog()
	require.Len(t, calls, 1)
	assert.Equal(t, "update something set tag = ? where id = ?", calls[0].SQL)
	assert.Equal(t, [][]any{{"x", 1}, {"x", 2}}, calls[0].Rows)
}

func TestBatchWithoutIterablesIsBindingError(t *testing.T) {
	dao, h := attachBatch(t)
	err := dao.Retag(context.Background(), "x")
	assert.ErrorIs(t, err, ErrBinding)
	assert.Empty(t, h.BatchLog())
}

func TestBatchBindsBeansPerRow(t *testing.T) {
	dao, h := attachBatch(t)
	h.ExpectBatch("insert into something")

	counts, err := dao.Save(context.Background(), []Something{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)
	assert.Equal(t, [][]any{{1, "a"}, {2, "b"}}, h.BatchLog()[0].Rows)
}

func TestBatchAcceptsSequencesAndIterators(t *testing.T) {
	dao, h := attachBatch(t)
	h.ExpectBatch("delete from something")
	h.ExpectQuery("select id from stale").WillReturnRows(dbtest.NewRowSet("id").AddRow(7).AddRow(8).AddRow(9))

	type seqDAO struct {
		Remove func(ctx context.Context, ids func(yield func(int) bool)) ([]int64, error) `sqlbatch:"delete from something where id = ?"`
	}
	seq, err := Attach[seqDAO](h)
	require.NoError(t, err)
	counts, err := seq.Remove(context.Background(), slices.Values([]int{4, 5}))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)

	it, err := dao.Ids(context.Background())
	require.NoError(t, err)
	counts, err = dao.Purge(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1}, counts)

	calls := h.BatchLog()
	require.Len(t, calls, 2)
	assert.Equal(t, batchDeleteSQL, calls[0].SQL)
	assert.Equal(t, [][]any{{4}, {5}}, calls[0].Rows)
	assert.Equal(t, [][]any{{7}, {8}, {9}}, calls[1].Rows)
}

func TestBatchEmptyInputSkipsDatabase(t *testing.T) {
	src := dbtest.NewFakeSource(types.Generic)
	dao, err := OnDemand[BatchDAO](src)
	require.NoError(t, err)

	counts, err := dao.Remove(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{}, counts)
	assert.Equal(t, 0, src.Opens())
}

func TestBatchFallsBackToPreparedStatement(t *testing.T) {
	src := dbtest.NewFakeSource(types.Generic)
	src.NoBatch = true
	src.Backend.ExpectExec("delete from something").WillReturnRowsAffected(1)
	dao, err := OnDemand[BatchDAO](src, WithChunkSize(2))
	require.NoError(t, err)

	counts, err := dao.Remove(context.Background(), []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 1}, counts)

	assert.Equal(t, []string{batchDeleteSQL, batchDeleteSQL}, src.Backend.Prepared())
	execs := src.Backend.ExecLog()
	require.Len(t, execs, 3)
	for i, call := range execs {
		assert.Equal(t, []any{i + 1}, call.Args)
	}
	assert.Empty(t, src.Backend.BatchLog())
	assert.Equal(t, 1, src.Opens())
	assert.Equal(t, 0, src.Outstanding())
}

func TestBatchChunkFailureAbortsRemainingChunks(t *testing.T) {
	src := dbtest.NewFakeSource(types.Generic)
	boom := errors.New("unique violation")
	src.Backend.ExpectBatch("insert into something").WillFailOnChunk(1, boom)
	dao, err := OnDemand[BatchDAO](src)
	require.NoError(t, err)

	counts, err := dao.Insert(context.Background(), []int{1, 2, 3, 4, 5}, []string{"a", "b", "c", "d", "e"})
	require.Error(t, err)
	assert.Nil(t, counts)
	assert.ErrorIs(t, err, ErrExecution)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "chunk 2 of 3")

	assert.Equal(t, []int{2, 2}, chunkSizes(src.Backend.BatchLog()))
	assert.Equal(t, 0, src.Outstanding())
}

type TenantDAO struct {
	Touch func(ctx context.Context, s Something) error                  `sqlupdate:"update something set name = :name where id = :id and tenant = :tenant" bind:"bean"`
	Bulk  func(ctx context.Context, rows []Something) ([]int64, error) `sqlbatch:"insert into something (id, name, tenant) values (:id, :name, :tenant)" bind:"bean"`
}

func TestBatchAppliesCustomizersToEveryBoundRow(t *testing.T) {
	tenant := CustomizerFunc(func(s *Statement) error {
		id, ok := s.Lookup("id")
		if !ok {
			return errors.New("id not bound")
		}
		s.Bind("tenant", fmt.Sprintf("t-%v", id))
		return nil
	})
	h := dbtest.NewFakeHandle(types.Generic)
	h.ExpectExec("update something")
	h.ExpectBatch("insert into something")
	dao, err := Attach[TenantDAO](h, WithCustomizers(tenant))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, dao.Touch(ctx, Something{ID: 9, Name: "z"}))
	require.Len(t, h.ExecLog(), 1)
	assert.Equal(t, []any{"z", 9, "t-9"}, h.ExecLog()[0].Args)

	counts, err := dao.Bulk(ctx, []Something{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)

	calls := h.BatchLog()
	require.Len(t, calls, 1)
	assert.Equal(t, "insert into something (id, name, tenant) values (?, ?, ?)", calls[0].SQL)
	assert.Equal(t, [][]any{{1, "a", "t-1"}, {2, "b", "t-2"}}, calls[0].Rows)
}

func TestBatchChunkSizeFromRowCustomizers(t *testing.T) {
	dao, h := attachBatch(t, WithMethodCustomizers("InsertAll", CustomizerFunc(func(s *Statement) error {
		s.SetChunkSize(2)
		return nil
	})))
	h.ExpectBatch("insert into something")

	require.NoError(t, dao.InsertAll(context.Background(), []int{1, 2, 3}, []string{"a", "b", "c"}))
	assert.Equal(t, []int{2, 1}, chunkSizes(h.BatchLog()))
}
