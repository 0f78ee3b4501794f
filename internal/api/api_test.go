package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/kalambet/threadattrs/internal/llm"
	"github.com/kalambet/threadattrs/internal/threads"
)

// stubService returns canned results and records the ids it was asked for.
type stubService struct {
	res   threads.Result
	err   error
	calls []string
}

func (s *stubService) GetAttributesForThread(_ context.Context, id string) (threads.Result, error) {
	s.calls = append(s.calls, id)
	return s.res, s.err
}

func okService() *stubService {
	return &stubService{res: threads.Result{
		Attributes: llm.ParseAttributes("sentiment: positive\nurgency: high"),
		AccountID:  "acct-1",
		EmailCount: 3,
	}}
}

func failingService(kind threads.Kind, msg string, cause error) *stubService {
	return &stubService{err: &threads.Error{Kind: kind, Status: kind.Status(), Message: msg, Err: cause}}
}

var errSecret = errors.New("dial tcp 10.0.0.5:443: connection refused")

var statusByKind = map[threads.Kind]int{
	threads.KindAccountNotFound:         http.StatusNotFound,
	threads.KindConversationNotFound:    http.StatusNotFound,
	threads.KindRateLimited:             http.StatusTooManyRequests,
	threads.KindUpstreamValidationError: http.StatusUnprocessableEntity,
	threads.KindInternalError:           http.StatusInternalServerError,
}
