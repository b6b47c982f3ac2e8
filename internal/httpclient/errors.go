package httpclient

import (
	"errors"
	"fmt"

	"github.com/user/storedash/internal/types"
)

// ErrAuthRequired is returned when an agent answered 401. By the time the
// caller sees it the session has already been cleared.
var ErrAuthRequired = errors.New("authentication required")

// NetworkKind says how a call failed below the application layer.
type NetworkKind string

const (
	KindTransport NetworkKind = "transport"
	KindTimeout   NetworkKind = "timeout"
	KindStatus    NetworkKind = "status"
	KindDecode    NetworkKind = "decode"
)

// NetworkError is any failure other than auth loss or request validation.
type NetworkError struct {
	Agent   types.AgentName
	Kind    NetworkKind
	Status  int
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch e.Kind {
	case KindStatus:
		if e.Message != "" {
			return fmt.Sprintf("%s agent returned %d: %s", e.Agent, e.Status, e.Message)
		}
		return fmt.Sprintf("%s agent returned %d", e.Agent, e.Status)
	case KindTimeout:
		return fmt.Sprintf("%s agent timed out: %v", e.Agent, e.Err)
	default:
		return fmt.Sprintf("%s agent %s error: %v", e.Agent, e.Kind, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError carries the detail of a 422 response.
type ValidationError struct {
	Agent  types.AgentName
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Data format error (422): %s", e.Detail)
}

// Outcome classifies err into the label used for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, ErrAuthRequired) {
		return "auth_required"
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "validation"
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return string(ne.Kind)
	}
	return "error"
}

// IsTimeout reports whether err is a timed-out call.
func IsTimeout(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Kind == KindTimeout
}

// IsDecode reports whether the agent answered but its body could not be
// decoded.
func IsDecode(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Kind == KindDecode
}
