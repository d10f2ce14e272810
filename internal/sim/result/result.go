package result

import (
	"errors"
	"fmt"
)

// Kind classifies domain-expected failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindValidation: malformed identifiers or quantities, rejected before any mutation.
	KindValidation
	// KindCapacity: ledger full, per-item maximum or unique-item limit reached.
	KindCapacity
	// KindPolicy: rate limited, circuit open, cooldown.
	KindPolicy
	// KindFault: handler or mechanic code failed.
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindPolicy:
		return "policy"
	case KindFault:
		return "fault"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// Result carries either a value or a human-readable failure reason.
type Result[T any] struct {
	value T
	err   string
	ok    bool
}

func Success[T any](v T) Result[T] { return Result[T]{value: v, ok: true} }

func Failure[T any](reason string) Result[T] {
	if reason == "" {
		reason = "failed"
	}
	return Result[T]{err: reason}
}

// From folds a (value, error) pair into a Result.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Failure[T](err.Error())
	}
	return Success(v)
}

func (r Result[T]) IsSuccess() bool { return r.ok }
func (r Result[T]) IsFailure() bool { return !r.ok }

// Value returns the success value, or the zero value on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the failure reason, or "" on success.
func (r Result[T]) Err() string { return r.err }

func (r Result[T]) OrElse(def T) T {
	if r.ok {
		return r.value
	}
	return def
}

func (r Result[T]) Unwrap() (T, error) {
	if r.ok {
		return r.value, nil
	}
	var zero T
	return zero, errors.New(r.err)
}

func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.ok {
		return Failure[U](r.err)
	}
	return Success(fn(r.value))
}
