package llm

import (
	"errors"
	"fmt"
)

// ErrEmptyAttributes means the reply parsed to zero attributes.
var ErrEmptyAttributes = errors.New("model reply contained no attributes")

const maxErrorBody = 512

// UpstreamHTTPError is a non-200 response from the model API.
type UpstreamHTTPError struct {
	Status int
	Body   string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("model API returned status %d: %s", e.Status, truncate(e.Body, maxErrorBody))
}

// UpstreamShapeError is a 200 response that is not a usable completion.
type UpstreamShapeError struct {
	Reason string
	Body   string
}

func (e *UpstreamShapeError) Error() string {
	if e.Body == "" {
		return "invalid model API response: " + e.Reason
	}
	return fmt.Sprintf("invalid model API response: %s: %s", e.Reason, truncate(e.Body, maxErrorBody))
}

// ValidationError marks a reply that was delivered but fails content checks.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validating model reply: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
