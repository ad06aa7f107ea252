package testing

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/internal/reflection"
)

// RowSet is an in-memory result set returned by FakeHandle queries.
//
//	rows := NewRowSet("id", "name").
//	    AddRow(1, "Brian").
//	    AddRow(2, "Keith")
//	h.ExpectQuery("select id, name").WillReturnRows(rows)
type RowSet struct {
	columns []string
	rows    [][]any
}

// NewRowSet creates an empty RowSet with the given column names.
func NewRowSet(columns ...string) *RowSet {
	return &RowSet{columns: columns, rows: make([][]any, 0)}
}

// AddRow appends one row. It panics when the value count does not match the
// column count.
func (rs *RowSet) AddRow(values ...any) *RowSet {
	if len(values) != len(rs.columns) {
		panic(fmt.Sprintf("AddRow: expected %d values for columns %v, got %d",
			len(rs.columns), rs.columns, len(values)))
	}
	rs.rows = append(rs.rows, values)
	return rs
}

// AddRows appends count rows produced by generator.
func (rs *RowSet) AddRows(count int, generator func(i int) []any) *RowSet {
	for i := 0; i < count; i++ {
		rs.AddRow(generator(i)...)
	}
	return rs
}

// AddRowsFromStructs appends one row per struct, reading the properties
// whose `db` tag (or field name) matches each column case-insensitively.
func (rs *RowSet) AddRowsFromStructs(structs ...any) *RowSet {
	for _, s := range structs {
		rs.AddRow(extractStructValues(s, rs.columns)...)
	}
	return rs
}

// RowCount returns the number of rows.
func (rs *RowSet) RowCount() int {
	return len(rs.rows)
}

// Columns returns a copy of the column names.
func (rs *RowSet) Columns() []string {
	return append([]string{}, rs.columns...)
}

// Rows returns a cursor over a snapshot of the set. The cursor is a real
// *sql.Rows, so scanning follows database/sql conversion rules.
func (rs *RowSet) Rows() (types.Rows, error) {
	db := sql.OpenDB(&rowSetConnector{columns: rs.Columns(), rows: cloneRowValues(rs.rows)})
	rows, err := db.QueryContext(context.Background(), rowSetQueryLabel)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &ownedRows{Rows: rows, db: db}, nil
}

// ownedRows closes the throwaway *sql.DB together with its cursor.
type ownedRows struct {
	*sql.Rows
	db *sql.DB
}

func (r *ownedRows) Close() error {
	err := r.Rows.Close()
	if dbErr := r.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

const rowSetQueryLabel = "rowset-query"

// rowSetConnector feeds a RowSet into sql.OpenDB.
type rowSetConnector struct {
	columns []string
	rows    [][]any
}

func (c *rowSetConnector) Connect(context.Context) (driver.Conn, error) {
	return &rowSetConn{columns: c.columns, rows: c.rows}, nil
}

func (c *rowSetConnector) Driver() driver.Driver {
	return rowSetDriver{}
}

// rowSetDriver only exists to satisfy driver.Connector.
type rowSetDriver struct{}

func (rowSetDriver) Open(string) (driver.Conn, error) {
	return nil, fmt.Errorf("rowSetDriver must be used via connector")
}

type rowSetConn struct {
	columns []string
	rows    [][]any
}

func (c *rowSetConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported for rowSetConn")
}

func (c *rowSetConn) Close() error { return nil }

func (c *rowSetConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("transactions not supported for rowSetConn")
}

func (c *rowSetConn) QueryContext(context.Context, string, []driver.NamedValue) (driver.Rows, error) {
	return &rowSetRows{columns: c.columns, rows: cloneRowValues(c.rows)}, nil
}

type rowSetRows struct {
	columns []string
	rows    [][]any
	idx     int
}

func (r *rowSetRows) Columns() []string {
	return append([]string{}, r.columns...)
}

func (r *rowSetRows) Close() error {
	r.rows = nil
	return nil
}

func (r *rowSetRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	for i, val := range r.rows[r.idx] {
		normalized, err := normalizeDriverValue(val)
		if err != nil {
			return fmt.Errorf("row %d column %s: %w", r.idx, r.columns[i], err)
		}
		dest[i] = normalized
	}
	r.idx++
	return nil
}

func cloneRowValues(rows [][]any) [][]any {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]any, len(rows))
	for i, row := range rows {
		out[i] = append([]any(nil), row...)
	}
	return out
}

// normalizeDriverValue converts Go values to driver.Value.
//
//nolint:gocyclo // Type normalization requires exhaustive case coverage for SQL compatibility
func normalizeDriverValue(v any) (driver.Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case int64, float64, bool, string, time.Time:
		return val, nil
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case uint:
		if uint64(val) > ^uint64(0)>>1 {
			return nil, fmt.Errorf("uint value %d overflows int64", val)
		}
		//nolint:gosec // G115: overflow checked above
		return int64(val), nil
	case uint64:
		if val > ^uint64(0)>>1 {
			return nil, fmt.Errorf("uint64 value %d overflows int64", val)
		}
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint8:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case []byte:
		return append([]byte(nil), val...), nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil, nil
			}
			return normalizeDriverValue(rv.Elem().Interface())
		}
		if valuer, ok := v.(driver.Valuer); ok {
			return valuer.Value()
		}
		if stringer, ok := v.(fmt.Stringer); ok {
			return stringer.String(), nil
		}
		return nil, fmt.Errorf("unsupported RowSet value type %T", v)
	}
}

func extractStructValues(s any, columns []string) []any {
	v, ok := reflection.Indirect(reflect.ValueOf(s))
	if !ok || v.Kind() != reflect.Struct {
		panic(fmt.Sprintf("extractStructValues: expected struct or pointer to struct, got %T", s))
	}

	byName := make(map[string]reflection.Property)
	for _, p := range reflection.Properties(v.Type()) {
		byName[strings.ToLower(p.Name)] = p
	}

	values := make([]any, len(columns))
	for i, col := range columns {
		p, ok := byName[strings.ToLower(col)]
		if !ok {
			panic(fmt.Sprintf("extractStructValues: column %q not found in struct %T (check db tags)", col, s))
		}
		if f, present := reflection.FieldByIndex(v, p.Index); present {
			values[i] = f.Interface()
		}
	}
	return values
}
