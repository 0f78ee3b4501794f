// Package threads runs the attribute extraction pipeline for one
// conversation: account lookup, rate limiting, chain fetch, model call.
package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kalambet/threadattrs/internal/llm"
	"github.com/kalambet/threadattrs/internal/ratelimit"
	"github.com/kalambet/threadattrs/internal/storage"
	"github.com/kalambet/threadattrs/internal/transcript"
)

// Store is the fail-soft record access the pipeline needs.
type Store interface {
	ResolveAccountID(ctx context.Context, conversationID string) (string, bool)
	FetchEmailChain(ctx context.Context, conversationID string) []storage.EmailRecord
	StoreThreadAttributes(ctx context.Context, conversationID string, attrs []storage.Attribute) bool
}

// RateChecker counts a call against an account's ceiling.
type RateChecker interface {
	Check(ctx context.Context, accountID string, category storage.Category) ratelimit.Result
}

// AttributeExtractor asks the model for attributes of a transcript.
type AttributeExtractor interface {
	ExtractAttributes(ctx context.Context, transcript, accountID, conversationID string) (llm.Attributes, error)
}

// Options toggles optional pipeline behaviour.
type Options struct {
	// EnforceRateLimits aborts with RateLimited when any category is exceeded.
	// Checks and increments run either way.
	EnforceRateLimits bool
	// PersistAttributes writes extracted attributes back to the thread.
	PersistAttributes bool
}

// Result is a successful extraction.
type Result struct {
	Attributes llm.Attributes
	AccountID  string
	EmailCount int
	RateLimits map[storage.Category]ratelimit.Result
}

// Service wires the pipeline stages together.
type Service struct {
	store     Store
	limiter   RateChecker
	extractor AttributeExtractor
	opts      Options
	logger    zerolog.Logger
}

// NewService creates a Service.
func NewService(store Store, limiter RateChecker, extractor AttributeExtractor, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		limiter:   limiter,
		extractor: extractor,
		opts:      opts,
		logger:    logger,
	}
}

// GetAttributesForThread extracts attributes for one conversation. Every
// failure is returned as *Error.
func (s *Service) GetAttributesForThread(ctx context.Context, conversationID string) (Result, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Result{}, newError(KindMissingInput, "conversationId is required", nil)
	}
	log := s.logger.With().Str("conversation_id", conversationID).Logger()

	accountID, ok := s.store.ResolveAccountID(ctx, conversationID)
	if !ok {
		log.Info().Msg("no account for conversation")
		return Result{}, newError(KindAccountNotFound, fmt.Sprintf("no account found for conversation %s", conversationID), nil)
	}
	log = log.With().Str("account_id", accountID).Logger()

	limits := make(map[storage.Category]ratelimit.Result, len(storage.Categories))
	var exceeded []string
	for _, cat := range storage.Categories {
		res := s.limiter.Check(ctx, accountID, cat)
		limits[cat] = res
		if res.Exceeded {
			exceeded = append(exceeded, string(cat))
		}
	}
	if len(exceeded) > 0 {
		if s.opts.EnforceRateLimits {
			return Result{}, newError(KindRateLimited, "rate limit exceeded for "+strings.Join(exceeded, ", "), nil)
		}
		log.Warn().Strs("categories", exceeded).Msg("rate limit exceeded, not enforced")
	}

	chain := s.store.FetchEmailChain(ctx, conversationID)
	if len(chain) == 0 {
		return Result{}, newError(KindConversationNotFound, fmt.Sprintf("no emails found for conversation %s", conversationID), nil)
	}

	text := transcript.Format(chain)
	attrs, err := s.extractor.ExtractAttributes(ctx, text, accountID, conversationID)
	if err != nil {
		var vErr *llm.ValidationError
		if errors.As(err, &vErr) {
			return Result{}, newError(KindUpstreamValidationError, "model reply failed validation", err)
		}
		return Result{}, newError(KindInternalError, "attribute extraction failed", err)
	}

	if s.opts.PersistAttributes {
		s.store.StoreThreadAttributes(ctx, conversationID, attrs.Pairs())
	}

	log.Info().Int("emails", len(chain)).Int("attributes", attrs.Len()).Msg("thread attributes extracted")
	return Result{
		Attributes: attrs,
		AccountID:  accountID,
		EmailCount: len(chain),
		RateLimits: limits,
	}, nil
}
