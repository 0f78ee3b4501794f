package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalambet/threadattrs/internal/llm"
	"github.com/kalambet/threadattrs/internal/threads"
)

const internalErrorMessage = "internal server error"

// ThreadService runs the extraction pipeline for one conversation.
type ThreadService interface {
	GetAttributesForThread(ctx context.Context, conversationID string) (threads.Result, error)
}

// Request is the inbound payload. Both key spellings are accepted.
type Request struct {
	ConversationID      string `json:"conversationId"`
	ConversationIDSnake string `json:"conversation_id"`
}

// ID returns the conversation id, preferring the camelCase key.
func (r Request) ID() string {
	if id := strings.TrimSpace(r.ConversationID); id != "" {
		return id
	}
	return strings.TrimSpace(r.ConversationIDSnake)
}

// Metadata describes a successful extraction.
type Metadata struct {
	ConversationID string `json:"conversationId"`
	AccountID      string `json:"accountId"`
	EmailCount     int    `json:"emailCount"`
	// ProcessingTime is wall-clock milliseconds spent in the pipeline.
	ProcessingTime int64 `json:"processingTime"`
}

// SuccessBody is the 200 response.
type SuccessBody struct {
	Attributes llm.Attributes `json:"attributes"`
	Metadata   Metadata       `json:"metadata"`
}

// ErrorBody is every non-200 response.
type ErrorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

// extract runs the pipeline and renders the outcome as a status code and a
// JSON-encodable body. Internal failure detail is logged, never returned.
func extract(ctx context.Context, svc ThreadService, conversationID string, logger zerolog.Logger) (int, any) {
	start := time.Now()
	res, err := svc.GetAttributesForThread(ctx, conversationID)
	elapsed := time.Since(start)

	if err != nil {
		return renderError(err, conversationID, logger)
	}

	logger.Info().
		Str("conversation_id", conversationID).
		Str("account_id", res.AccountID).
		Int("email_count", res.EmailCount).
		Dur("elapsed", elapsed).
		Msg("request completed")

	return http.StatusOK, SuccessBody{
		Attributes: res.Attributes,
		Metadata: Metadata{
			ConversationID: conversationID,
			AccountID:      res.AccountID,
			EmailCount:     res.EmailCount,
			ProcessingTime: elapsed.Milliseconds(),
		},
	}
}

// Run executes one extraction outside a transport and returns the same status
// and body the HTTP and Lambda surfaces serve.
func Run(ctx context.Context, svc ThreadService, conversationID string, logger zerolog.Logger) (int, any) {
	if strings.TrimSpace(conversationID) == "" {
		return missingInput()
	}
	return extract(ctx, svc, conversationID, logger)
}

func renderError(err error, conversationID string, logger zerolog.Logger) (int, ErrorBody) {
	var te *threads.Error
	if !errors.As(err, &te) {
		te = &threads.Error{Kind: threads.KindInternalError, Status: http.StatusInternalServerError, Err: err}
	}

	if te.Kind == threads.KindInternalError {
		logger.Error().Err(err).Str("conversation_id", conversationID).Msg("request failed")
		return te.Status, ErrorBody{Error: internalErrorMessage, ErrorType: string(te.Kind)}
	}

	logger.Info().Err(err).Str("conversation_id", conversationID).Int("status", te.Status).Msg("request rejected")
	return te.Status, ErrorBody{Error: te.Message, ErrorType: string(te.Kind)}
}

func missingInput() (int, ErrorBody) {
	return http.StatusBadRequest, ErrorBody{Error: "conversationId is required", ErrorType: string(threads.KindMissingInput)}
}
