package gateway

import (
	"errors"

	"github.com/user/storedash/internal/httpclient"
)

// ErrorKind classifies a failed Result so callers can branch without
// matching on message text.
type ErrorKind string

const (
	KindAuthRequired ErrorKind = "auth_required"
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindValidation   ErrorKind = "validation"
	KindNotFound     ErrorKind = "not_found"
)

var (
	// ErrInvalidInput is returned for arguments rejected before any call is made.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when an agent answered but had no such record.
	ErrNotFound = errors.New("not found")
)

const authFailedMessage = "Authentication failed. Please login again."

// Result is the envelope every gateway operation returns. Data is meaningful
// only when Success is true, except where an operation documents otherwise.
type Result[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed Result from err.
func Fail[T any](err error) Result[T] {
	r := Result[T]{Kind: KindOf(err)}
	var ve *httpclient.ValidationError
	switch {
	case r.Kind == KindAuthRequired:
		r.Error = authFailedMessage
	case errors.As(err, &ve):
		r.Error = ve.Error()
	default:
		r.Error = err.Error()
	}
	return r
}

// AuthRequired reports whether the operation failed because the session was
// lost.
func (r Result[T]) AuthRequired() bool {
	return r.Kind == KindAuthRequired
}

// KindOf maps an error to its ErrorKind. It returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ve *httpclient.ValidationError
	switch {
	case errors.Is(err, httpclient.ErrAuthRequired):
		return KindAuthRequired
	case errors.As(err, &ve), errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case httpclient.IsTimeout(err):
		return KindTimeout
	default:
		return KindNetwork
	}
}
