package threads

import (
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure. Its string form is the errorType
// reported to callers.
type Kind string

const (
	KindMissingInput            Kind = "MissingInput"
	KindAccountNotFound         Kind = "AccountNotFound"
	KindConversationNotFound    Kind = "ConversationNotFound"
	KindRateLimited             Kind = "RateLimited"
	KindUpstreamValidationError Kind = "UpstreamValidationError"
	KindInternalError           Kind = "InternalError"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindMissingInput:
		return http.StatusBadRequest
	case KindAccountNotFound, KindConversationNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstreamValidationError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Error is a pipeline failure carrying everything a boundary needs to render
// a response.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Status: kind.Status(), Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }
