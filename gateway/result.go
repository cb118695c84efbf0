package gateway

import (
	"errors"
	"fmt"
	"net/http"

	"village/model"
)

// Result is the decoded outcome of one remote call: a value or an error,
// never both.
type Result[T any] struct {
	value T
	err   error
}

func Ok[T any](v T) Result[T] { return Result[T]{value: v} }

func Fail[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("gateway: nil error")
	}
	return Result[T]{err: err}
}

func (r Result[T]) OK() bool { return r.err == nil }

func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// Kind classifies a failure.
type Kind string

const (
	KindInvalid           Kind = "invalid"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindAlreadyMember     Kind = "already_member"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindRateLimited       Kind = "rate_limited"
	KindServer            Kind = "server"
	KindTransport         Kind = "transport"
)

// kindSentinels is ordered: an error wrapping several sentinels takes the
// kind of the first one listed.
var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindUnauthorized, model.ErrUnauthorized},
	{KindForbidden, model.ErrForbidden},
	{KindAlreadyMember, model.ErrAlreadyMember},
	{KindInvalidTransition, model.ErrInvalidTransition},
	{KindNotFound, model.ErrNotFound},
	{KindInvalid, model.ErrInvalid},
}

func sentinel(k Kind) error {
	for _, ks := range kindSentinels {
		if ks.kind == k {
			return ks.err
		}
	}
	return nil
}

// Error is what every failed gateway call returns. Err is the local cause,
// if any; errors decoded off the wire have none.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes the model sentinel for the kind, so errors.Is works on
// both sides of the wire, and the local cause.
func (e *Error) Unwrap() []error {
	var out []error
	if s := sentinel(e.Kind); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap turns any error into an *Error for op, classifying it by sentinel.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		if ge.Op == "" {
			return &Error{Op: op, Kind: ge.Kind, Message: ge.Message, Err: ge.Err}
		}
		return ge
	}
	return &Error{Op: op, Kind: KindOf(err), Message: err.Error(), Err: err}
}

// KindOf classifies err. Unknown errors are server errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindServer
}

// HTTPStatus is the response code the server uses for k.
func HTTPStatus(k Kind) int {
	switch k {
	case KindInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyMember, KindInvalidTransition:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// KindFromStatus is the fallback when a response carries no code.
func KindFromStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest:
		return KindInvalid
	case http.StatusUnauthorized:
		return KindUnauthorized
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindInvalidTransition
	case http.StatusTooManyRequests:
		return KindRateLimited
	}
	return KindServer
}

// retryable reports whether the failure says something about the service's
// health rather than about the request.
func retryable(err error) bool {
	k := KindOf(err)
	return k == KindServer || k == KindTransport
}
