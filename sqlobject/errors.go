package sqlobject

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind int

const (
	// KindTemplate is a malformed SQL template.
	KindTemplate Kind = iota + 1
	// KindBinding is an argument that could not be bound, including a batch
	// whose iterable arguments disagree in length.
	KindBinding
	// KindConfiguration is an invalid contract declaration detected at build.
	KindConfiguration
	// KindExecution is a failure reported by the database.
	KindExecution
	// KindResultShape is a result that does not fit the declared return type.
	KindResultShape
)

// Sentinels for errors.Is matching against the Kind of an *Error.
var (
	ErrTemplate      = errors.New("template error")
	ErrBinding       = errors.New("binding error")
	ErrConfiguration = errors.New("configuration error")
	ErrExecution     = errors.New("execution error")
	ErrResultShape   = errors.New("result shape error")
)

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindTemplate:
		return ErrTemplate
	case KindBinding:
		return ErrBinding
	case KindConfiguration:
		return ErrConfiguration
	case KindExecution:
		return ErrExecution
	case KindResultShape:
		return ErrResultShape
	default:
		return nil
	}
}

// Error is returned by contract construction and by contract methods.
// Unwrap exposes the underlying cause, such as a driver error.
type Error struct {
	Kind Kind
	// Method is "Contract.Field", empty when the error is not tied to a method.
	Method string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("sqlobject: ")
	b.WriteString(e.Kind.String())
	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is matches the sentinel of e's Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, method string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Method: method, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func configError(method, format string, args ...any) *Error {
	return newError(KindConfiguration, method, nil, format, args...)
}

func bindingError(method, format string, args ...any) *Error {
	return newError(KindBinding, method, nil, format, args...)
}

// executionError wraps err unless it already is an *Error.
func executionError(method string, err error, format string, args ...any) error {
	var se *Error
	if errors.As(err, &se) {
		if se.Method == "" {
			se.Method = method
		}
		return se
	}
	return newError(KindExecution, method, err, format, args...)
}

// withMethod attributes err to method when it is an *Error without one.
func withMethod(err error, method string) error {
	var se *Error
	if errors.As(err, &se) && se.Method == "" {
		se.Method = method
	}
	return err
}
