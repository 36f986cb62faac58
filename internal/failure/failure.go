// Package failure defines the error taxonomy shared by calendar providers,
// the aggregator and the query layer.
package failure

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrUnreachable     = errors.New("unreachable")
	ErrRateLimited     = errors.New("rate limited")
	ErrMalformed       = errors.New("malformed response")
	ErrUnsupported     = errors.New("unsupported")
	ErrUnknown         = errors.New("unknown failure")
)

var kinds = []error{
	ErrInvalidArgument,
	ErrUnauthenticated,
	ErrUnreachable,
	ErrRateLimited,
	ErrMalformed,
	ErrUnsupported,
	ErrUnknown,
}

// Error is a provider failure classified into one of the taxonomy kinds.
// It matches both its Kind and the underlying cause with errors.Is.
type Error struct {
	Provider string
	Source   string
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds an Error of the given kind. A nil kind is treated as ErrUnknown.
func New(provider, source string, kind, err error) *Error {
	if kind == nil {
		kind = ErrUnknown
	}
	return &Error{Provider: provider, Source: source, Kind: kind, Err: err}
}

// Invalid returns an ErrInvalidArgument wrap with a formatted message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// KindOf reports the taxonomy kind carried by err, or ErrUnknown.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrUnknown
}

// Classify maps transport-level errors that every backend shares onto the
// taxonomy. Backend-specific signals (HTTP status codes, API error reasons)
// are handled by each provider before falling back to Classify.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrUnreachable
	}
	var xmlErr *xml.SyntaxError
	var jsonErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &xmlErr) || errors.As(err, &jsonErr) || errors.As(err, &typeErr) {
		return ErrMalformed
	}
	return ErrUnknown
}

// Wrap converts err into a provider-attributed *Error. Errors that already
// are *Error keep their kind but are re-attributed to the provider.
func Wrap(provider, source string, err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Provider == provider {
			return fe
		}
		return New(provider, source, fe.Kind, fe.Err)
	}
	return New(provider, source, Classify(err), err)
}

// StatusKind maps an HTTP status code to a taxonomy kind. It returns nil
// for statuses that are not failures on their own.
func StatusKind(code int) error {
	switch {
	case code == 401 || code == 403:
		return ErrUnauthenticated
	case code == 429:
		return ErrRateLimited
	case code >= 500:
		return ErrUnreachable
	case code >= 400:
		return ErrUnknown
	}
	return nil
}
