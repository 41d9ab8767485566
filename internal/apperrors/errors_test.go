package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageWithoutElement(t *testing.T) {
	err := New(InvalidStrategy, "weights must sum to 1.0")
	assert.Equal(t, "InvalidStrategy: weights must sum to 1.0", err.Error())
}

func TestErrorMessageWithElement(t *testing.T) {
	err := WithElement(MissingIndicator, "no RSI value for date", "gate-1")
	assert.Equal(t, "MissingIndicator: no RSI value for date (element gate-1)", err.Error())
}

func TestWrapUnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(UpstreamFetchFailed, "vendor call failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		InvalidStrategy:     400,
		UpstreamFetchFailed:  502,
		InsufficientWarmup:   502,
		Internal:             500,
		CacheUnavailable:     500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.HTTPStatus(), "kind %s", kind)
	}
}

func TestExitCodeMapping(t *testing.T) {
	assert.Equal(t, 2, InvalidStrategy.ExitCode())
	assert.Equal(t, 3, UpstreamFetchFailed.ExitCode())
	assert.Equal(t, 3, InsufficientWarmup.ExitCode())
	assert.Equal(t, 4, Internal.ExitCode())
	assert.Equal(t, 4, CacheUnavailable.ExitCode())
}

func TestErrorsAsExtractsKind(t *testing.T) {
	var target *Error
	err := New(BenchmarkFlat, "benchmark has zero variance")
	ok := errors.As(err, &target)
	assert.True(t, ok)
	assert.Equal(t, BenchmarkFlat, target.Kind)
}
