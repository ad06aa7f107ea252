// Package sqlobject implements declarative data-access contracts.
//
// A contract is a struct whose exported func fields are the operations. Each
// field carries its SQL in a tag and is filled in by Attach, Open or OnDemand
// with a dispatcher that binds the arguments, runs the statement and shapes
// the result from the declared return type:
//
//	type SomethingDAO struct {
//	    Insert    func(ctx context.Context, id int, name string) (int64, error) `sqlupdate:"insert into something (id, name) values (:id, :name)" bind:"id,name"`
//	    FindName  func(ctx context.Context, id int) (string, error)              `sqlquery:"select name from something where id = :id" bind:"id"`
//	    Names     func(ctx context.Context) (*sqlobject.Iterator[string], error) `sqlquery:"select name from something order by id"`
//	    InsertAll func(ctx context.Context, rows []Something) ([]int64, error)   `sqlbatch:"insert into something (id, name) values (:id, :name)" bind:"bean" chunk:"500"`
//	    Close     func() error
//	}
//
//	dao, err := sqlobject.OnDemand[SomethingDAO](source)
//
// Templates use `:name` for named sites and `?` for positional ones; markers
// inside quoted literals and comments are ignored. Each non-context parameter
// has one entry in the `bind` tag:
//
//	name                       bind to :name
//	"" or ?                    bind to the ? site with the parameter's ordinal
//	                           (a sole parameter is also bound as :it)
//	bean, bean:<prefix>        bind struct fields or map entries as :field or :prefix.field
//	binder:<factory>[:<name>]  delegate to a BinderFactory from the Registry
//
// Query methods return T (first row, error when empty), *T (nil when empty),
// []T, *Iterator[T] or *Query[T]. Update methods return error or
// (int|int64, error). Batch methods return error or ([]int|[]int64, error).
//
// Declaration mistakes are reported when the contract is built. All errors
// are *Error values matching ErrTemplate, ErrBinding, ErrConfiguration,
// ErrExecution or ErrResultShape with errors.Is.
package sqlobject
