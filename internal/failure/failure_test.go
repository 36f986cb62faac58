package failure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := New("work", "yandex", ErrUnreachable, cause)

	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.Equal(t, "provider work: unreachable: boom", err.Error())
}

func TestNewDefaultsToUnknown(t *testing.T) {
	err := New("p", "google", nil, nil)
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Equal(t, "provider p: unknown failure", err.Error())
}

func TestClassify(t *testing.T) {
	syntaxErr := json.Unmarshal([]byte(`{"a":`), &struct{}{})
	require.Error(t, syntaxErr)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), ErrUnreachable},
		{"canceled", context.Canceled, ErrUnreachable},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ErrUnreachable},
		{"json", syntaxErr, ErrMalformed},
		{"sentinel", fmt.Errorf("x: %w", ErrRateLimited), ErrRateLimited},
		{"other", errors.New("strange"), ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestWrapReattributes(t *testing.T) {
	inner := New("inner", "google", ErrMalformed, errors.New("bad json"))
	wrapped := Wrap("outer", "google", fmt.Errorf("list: %w", inner))

	assert.Equal(t, "outer", wrapped.Provider)
	assert.ErrorIs(t, wrapped, ErrMalformed)

	same := Wrap("inner", "google", inner)
	assert.Same(t, inner, same)
	assert.Nil(t, Wrap("p", "s", nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrUnsupported, KindOf(New("p", "s", ErrUnsupported, nil)))
	assert.Equal(t, ErrInvalidArgument, KindOf(Invalid("hours must be positive, got %d", 0)))
	assert.Equal(t, ErrUnknown, KindOf(errors.New("x")))
}

func TestStatusKind(t *testing.T) {
	assert.Equal(t, ErrUnauthenticated, StatusKind(401))
	assert.Equal(t, ErrUnauthenticated, StatusKind(403))
	assert.Equal(t, ErrRateLimited, StatusKind(429))
	assert.Equal(t, ErrUnreachable, StatusKind(503))
	assert.Equal(t, ErrUnknown, StatusKind(404))
	assert.Nil(t, StatusKind(207))
}
