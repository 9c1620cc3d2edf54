package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorRendering(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := New("session/read", CodeNetwork,
		WithMessage("socket read failed"),
		WithCause(cause),
	)

	rendered := err.Error()
	require.Contains(t, rendered, "op=session/read")
	require.Contains(t, rendered, "code=network")
	require.Contains(t, rendered, `message="socket read failed"`)
	require.Contains(t, rendered, `cause="connection reset by peer"`)
}

func TestErrorRenderingServerFields(t *testing.T) {
	err := New("protocol/route", CodeRequestRejected,
		WithReqID(42),
		WithServerError(201, "Order rejected - reason: insufficient margin"),
	)

	rendered := err.Error()
	require.Contains(t, rendered, "req_id=42")
	require.Contains(t, rendered, "server_code=201")
	require.Contains(t, rendered, "server_msg=")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New("wire/frame", CodeFraming, WithCause(cause))
	require.ErrorIs(t, err, cause)
}

func TestCodeOfWrapped(t *testing.T) {
	inner := New("correlate/await", CodeRequestTimeout)
	wrapped := fmt.Errorf("await order status: %w", inner)
	require.Equal(t, CodeRequestTimeout, CodeOf(wrapped))
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	require.True(t, IsFatal(New("wire/frame", CodeFraming)))
	require.True(t, IsFatal(New("session/handshake", CodeHandshake)))
	require.False(t, IsFatal(New("protocol/route", CodeDecode)))
	require.False(t, IsFatal(New("correlate/await", CodeRequestTimeout)))
	require.False(t, IsFatal(nil))
}

func TestNilErrorString(t *testing.T) {
	var e *E
	require.Equal(t, "<nil>", e.Error())
}
