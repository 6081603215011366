package rerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_ClassifiesWrappedErrors(t *testing.T) {
	err := New(KindValidation, "bad input")
	require.Equal(t, KindValidation, KindOf(err))
}

func TestKindOf_InternalForPlainErrorsUnknownForNil(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Equal(t, KindUnknown, KindOf(nil))
}

func TestRetryable_DefaultsByKind(t *testing.T) {
	require.True(t, IsRetryable(New(KindTransport, "eof")))
	require.True(t, IsRetryable(New(KindWorkerCrashed, "pipe closed")))
	require.False(t, IsRetryable(New(KindValidation, "bad")))
}

func TestError_WithRetryableOverride(t *testing.T) {
	err := New(KindInternal, "transient assertion").WithRetryable(true)
	require.True(t, err.Retryable())
}

func TestError_UnwrapPreservesCause(t *testing.T) {
	cause := errors.New("eof")
	err := Wrap(KindTransport, cause)
	require.Equal(t, cause, errors.Unwrap(err))
	require.Equal(t, KindTransport, KindOf(err))
}

func TestError_WithData(t *testing.T) {
	err := New(KindJSTyped, "boom").WithData(map[string]any{"type": "NetworkError"})
	require.Equal(t, "NetworkError", err.Data.(map[string]any)["type"])
}
