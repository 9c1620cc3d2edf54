// Package errs provides structured error types and helpers for the gatewire client.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category within the protocol stack.
type Code string

const (
	// CodeFraming indicates a corrupt byte stream; fatal to the connection.
	CodeFraming Code = "framing"
	// CodeDecode indicates a single malformed message; the stream continues.
	CodeDecode Code = "decode"
	// CodeHandshake indicates a failed connection handshake.
	CodeHandshake Code = "handshake"
	// CodeRequestTimeout indicates a request that did not resolve in time.
	CodeRequestTimeout Code = "request_timeout"
	// CodeRequestRejected indicates a request the server refused.
	CodeRequestRejected Code = "request_rejected"
	// CodeConnectionLost indicates the connection dropped with requests in flight.
	CodeConnectionLost Code = "connection_lost"
	// CodeReconnectExhausted indicates the backoff policy gave up.
	CodeReconnectExhausted Code = "reconnect_exhausted"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeNetwork indicates a network transport failure.
	CodeNetwork Code = "network"
	// CodeUnavailable indicates the component is closed or temporarily unusable.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the gatewire stack.
type E struct {
	Op         string
	Code       Code
	MsgTag     int64
	ReqID      int64
	ServerCode int64
	ServerMsg  string
	Message    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:         strings.TrimSpace(op),
		Code:       code,
		MsgTag:     -1,
		ReqID:      -1,
		ServerCode: 0,
		ServerMsg:  "",
		Message:    "",
		cause:      nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMsgTag records the wire message tag the error relates to.
func WithMsgTag(tag int64) Option {
	return func(e *E) {
		e.MsgTag = tag
	}
}

// WithReqID records the request id the error relates to.
func WithReqID(id int64) Option {
	return func(e *E) {
		e.ReqID = id
	}
}

// WithServerError captures the raw broker error code and text.
func WithServerError(code int64, msg string) Option {
	return func(e *E) {
		e.ServerCode = code
		e.ServerMsg = msg
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.MsgTag >= 0 {
		parts = append(parts, "tag="+strconv.FormatInt(e.MsgTag, 10))
	}
	if e.ReqID >= 0 {
		parts = append(parts, "req_id="+strconv.FormatInt(e.ReqID, 10))
	}
	if e.ServerCode != 0 {
		parts = append(parts, "server_code="+strconv.FormatInt(e.ServerCode, 10))
	}
	if e.ServerMsg != "" {
		parts = append(parts, "server_msg="+strconv.Quote(e.ServerMsg))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err when it carries one anywhere in its chain.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether the error requires tearing down the connection.
func IsFatal(err error) bool {
	switch CodeOf(err) {
	case CodeFraming, CodeHandshake, CodeNetwork:
		return true
	default:
		return false
	}
}
