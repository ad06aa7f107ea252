package sqlobject

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/gaborage/go-sqlobject/database/types"
	"github.com/gaborage/go-sqlobject/logger"
)

// ErrContractClosed is returned, wrapped in an execution error, by methods
// of an opened contract after its Close method ran.
var ErrContractClosed = errors.New("contract is closed")

// Mode is how a contract value obtains its handle.
type Mode int

const (
	// ModeAttach uses a caller-owned handle; Close does nothing.
	ModeAttach Mode = iota
	// ModeOpen opens a handle at build; Close releases it.
	ModeOpen
	// ModeOnDemand opens a handle per call and closes it before returning.
	ModeOnDemand
)

func (m Mode) String() string {
	switch m {
	case ModeAttach:
		return "attach"
	case ModeOpen:
		return "open"
	case ModeOnDemand:
		return "on-demand"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// handleProvider hands a handle to one call. release must run exactly once
// when the call, or the cursor it returned, is done.
type handleProvider interface {
	acquire(ctx context.Context, method string) (h types.Handle, release func() error, err error)
	close() error
}

func noRelease() error { return nil }

type attachedHandle struct {
	h types.Handle
}

func (a *attachedHandle) acquire(context.Context, string) (types.Handle, func() error, error) {
	return a.h, noRelease, nil
}

func (a *attachedHandle) close() error { return nil }

type openedHandle struct {
	h   types.Handle
	log logger.Logger

	mu     sync.Mutex
	closed bool
}

func (o *openedHandle) acquire(_ context.Context, method string) (types.Handle, func() error, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, newError(KindExecution, method, ErrContractClosed, "handle %s released", o.h.ID())
	}
	return o.h, noRelease, nil
}

func (o *openedHandle) close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.log.Debug().Str("handle_id", o.h.ID()).Msg("contract handle released")
	if err := o.h.Close(); err != nil {
		return newError(KindExecution, "", err, "closing handle %s", o.h.ID())
	}
	return nil
}

type onDemandHandles struct {
	src types.HandleSource
	log logger.Logger
}

func (d *onDemandHandles) acquire(ctx context.Context, method string) (types.Handle, func() error, error) {
	h, err := d.src.Open(ctx)
	if err != nil {
		return nil, nil, newError(KindExecution, method, err, "opening handle")
	}
	var once sync.Once
	release := func() (err error) {
		once.Do(func() {
			err = h.Close()
			d.log.Debug().
				Str("method", method).
				Str("handle_id", h.ID()).
				Msg("on-demand handle released")
		})
		return err
	}
	return h, release, nil
}

func (d *onDemandHandles) close() error { return nil }

// blueprint is a contract type compiled against one set of options.
type blueprint struct {
	desc     *contractDescriptor
	methods  []*boundMethod
	settings *settings
}

func prepare[C any](opts []Option) (*blueprint, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	d, err := describe(reflect.TypeFor[C]())
	if err != nil {
		return nil, err
	}
	methods, err := compile(d, s)
	if err != nil {
		return nil, err
	}
	return &blueprint{desc: d, methods: methods, settings: s}, nil
}

func instantiate[C any](b *blueprint, mode Mode, handles handleProvider) *C {
	in := &instance{name: b.desc.name, mode: mode, handles: handles, log: b.settings.log}
	c := new(C)
	v := reflect.ValueOf(c).Elem()
	for _, bm := range b.methods {
		v.Field(bm.field).Set(reflect.MakeFunc(bm.fn, in.dispatcher(bm)))
	}
	b.settings.log.Debug().
		Str("contract", b.desc.name).
		Str("mode", mode.String()).
		Int("methods", len(b.methods)).
		Msg("contract built")
	return c
}

// Attach builds contract C over a caller-owned handle. The caller closes h;
// the contract's Close method does nothing. Like the handle, the result is
// not safe for concurrent use.
//
//	dao, err := sqlobject.Attach[SomethingDAO](h)
//	n, err := dao.Insert(ctx, 1, "Brian")
func Attach[C any](h types.Handle, opts ...Option) (*C, error) {
	if h == nil {
		return nil, configError("", "attach needs a handle")
	}
	b, err := prepare[C](opts)
	if err != nil {
		return nil, err
	}
	return instantiate[C](b, ModeAttach, &attachedHandle{h: h}), nil
}

// Open builds contract C over a handle opened from src now. The contract's
// Close method releases the handle; later calls fail with ErrContractClosed.
func Open[C any](ctx context.Context, src types.HandleSource, opts ...Option) (*C, error) {
	if src == nil {
		return nil, configError("", "open needs a handle source")
	}
	b, err := prepare[C](opts)
	if err != nil {
		return nil, err
	}
	if !b.hasClose() {
		b.settings.log.Warn().
			Str("contract", b.desc.name).
			Msg("opened contract has no Close method, its handle stays open until the source closes")
	}
	h, err := src.Open(ctx)
	if err != nil {
		return nil, newError(KindExecution, "", err, "opening handle for %s", b.desc.name)
	}
	b.settings.log.Debug().Str("contract", b.desc.name).Str("handle_id", h.ID()).Msg("contract handle opened")
	return instantiate[C](b, ModeOpen, &openedHandle{h: h, log: b.settings.log}), nil
}

// OnDemand builds contract C that opens a handle from src for each call and
// closes it before the call returns, on success and on failure. Iterators
// and deferred queries hold their handle until they are exhausted or
// closed. The result is safe for concurrent use when src is.
func OnDemand[C any](src types.HandleSource, opts ...Option) (*C, error) {
	if src == nil {
		return nil, configError("", "on-demand needs a handle source")
	}
	b, err := prepare[C](opts)
	if err != nil {
		return nil, err
	}
	return instantiate[C](b, ModeOnDemand, &onDemandHandles{src: src, log: b.settings.log}), nil
}

func (b *blueprint) hasClose() bool {
	for _, m := range b.methods {
		if m.op == OpClose {
			return true
		}
	}
	return false
}
