package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CounterTTL is the lifetime of a rate-limit counter window.
const CounterTTL = 60 * time.Second

// Backend is a keyed record store holding conversations, threads, accounts,
// rate-limit counters and invocation records. Implementations return errors;
// Client decides which of them are swallowed.
type Backend interface {
	QueryConversation(ctx context.Context, conversationID string) ([]EmailRecord, error)
	GetThreadAccount(ctx context.Context, conversationID string) (string, error)
	GetAccountLimit(ctx context.Context, accountID string, category Category) (int, error)
	// IncrementCounter atomically increments the (account, category) counter
	// and returns the new value. A missing or expired counter restarts at 1
	// with an expiry ttl from now.
	IncrementCounter(ctx context.Context, accountID string, category Category, ttl time.Duration) (int, error)
	PutInvocation(ctx context.Context, rec InvocationRecord) error
	UpdateThreadAttributes(ctx context.Context, conversationID string, attrs []Attribute) error
	Close() error
}

// Client exposes the fail-soft record operations used by the pipeline.
// Store failures are logged and converted to empty or zero results.
type Client struct {
	backend Backend
	logger  zerolog.Logger
	newID   func() string
}

// NewClient wraps backend.
func NewClient(backend Backend, logger zerolog.Logger) *Client {
	return &Client{
		backend: backend,
		logger:  logger.With().Str("component", "storage").Logger(),
		newID:   func() string { return uuid.New().String() },
	}
}

// FetchEmailChain returns the conversation's emails sorted ascending by
// timestamp. A query failure yields an empty chain, the same as a
// conversation with no emails.
func (c *Client) FetchEmailChain(ctx context.Context, conversationID string) []EmailRecord {
	records, err := c.backend.QueryConversation(ctx, conversationID)
	if err != nil {
		c.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("error fetching email chain")
		return []EmailRecord{}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
	if records == nil {
		records = []EmailRecord{}
	}
	return records
}

// ResolveAccountID looks up the account owning a conversation. ok is false
// when the thread is missing, has no account, or the lookup failed.
func (c *Client) ResolveAccountID(ctx context.Context, conversationID string) (accountID string, ok bool) {
	accountID, err := c.backend.GetThreadAccount(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("error resolving account")
		}
		return "", false
	}
	if accountID == "" {
		return "", false
	}
	return accountID, true
}

// IncrementAndFetchCounter bumps the short-lived counter for the account and
// category and returns its value, or 0 when the store fails.
func (c *Client) IncrementAndFetchCounter(ctx context.Context, accountID string, category Category) int {
	n, err := c.backend.IncrementCounter(ctx, accountID, category, CounterTTL)
	if err != nil {
		c.logger.Error().Err(err).
			Str("account_id", accountID).
			Str("category", string(category)).
			Msg("error incrementing rate-limit counter")
		return 0
	}
	return n
}

// StoreInvocation inserts rec under a freshly generated id.
func (c *Client) StoreInvocation(ctx context.Context, rec InvocationRecord) bool {
	rec.ID = c.newID()
	if err := c.backend.PutInvocation(ctx, rec); err != nil {
		c.logger.Error().Err(err).
			Str("account_id", rec.AssociatedAccount).
			Str("conversation_id", rec.ConversationID).
			Msg("error storing invocation record")
		return false
	}
	c.logger.Debug().Str("invocation_record_id", rec.ID).Int("total_tokens", rec.TotalTokens).Msg("invocation stored")
	return true
}

// StoreThreadAttributes writes extracted attributes onto the thread row.
func (c *Client) StoreThreadAttributes(ctx context.Context, conversationID string, attrs []Attribute) bool {
	if len(attrs) == 0 {
		return true
	}
	if err := c.backend.UpdateThreadAttributes(ctx, conversationID, attrs); err != nil {
		c.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("error updating thread attributes")
		return false
	}
	c.logger.Info().Str("conversation_id", conversationID).Int("attributes", len(attrs)).Msg("thread attributes updated")
	return true
}
