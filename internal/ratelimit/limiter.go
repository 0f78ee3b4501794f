package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalambet/threadattrs/internal/storage"
)

// CounterStore is the slice of the record store the limiter needs.
type CounterStore interface {
	GetAccountLimit(ctx context.Context, accountID string, category storage.Category) (int, error)
	IncrementCounter(ctx context.Context, accountID string, category storage.Category, ttl time.Duration) (int, error)
}

// LookupFailurePolicy decides what a missing or unreadable ceiling means.
type LookupFailurePolicy int

const (
	// DenyOnLookupFailure treats the ceiling as 0, so any call is exceeded.
	DenyOnLookupFailure LookupFailurePolicy = iota
	// AllowOnLookupFailure skips limiting for the account.
	AllowOnLookupFailure
)

// CheckFailurePolicy decides the outcome when the counter cannot be updated.
type CheckFailurePolicy int

const (
	// AllowOnCheckFailure reports {false, 0, 0}.
	AllowOnCheckFailure CheckFailurePolicy = iota
	// DenyOnCheckFailure reports {true, 0, limit}.
	DenyOnCheckFailure
)

// ParseLookupFailurePolicy accepts "deny" or "allow".
func ParseLookupFailurePolicy(s string) (LookupFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deny":
		return DenyOnLookupFailure, nil
	case "allow":
		return AllowOnLookupFailure, nil
	}
	return 0, fmt.Errorf("unknown lookup failure policy %q (want deny or allow)", s)
}

// ParseCheckFailurePolicy accepts "allow" or "deny".
func ParseCheckFailurePolicy(s string) (CheckFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return AllowOnCheckFailure, nil
	case "deny":
		return DenyOnCheckFailure, nil
	}
	return 0, fmt.Errorf("unknown check failure policy %q (want allow or deny)", s)
}

func (p LookupFailurePolicy) String() string {
	if p == AllowOnLookupFailure {
		return "allow"
	}
	return "deny"
}

func (p CheckFailurePolicy) String() string {
	if p == DenyOnCheckFailure {
		return "deny"
	}
	return "allow"
}

// Result is the outcome of one check.
type Result struct {
	Exceeded bool `json:"exceeded"`
	Count    int  `json:"count"`
	Limit    int  `json:"limit"`
}

// Limiter counts calls per account and category in a fixed window.
type Limiter struct {
	store    CounterStore
	window   time.Duration
	onLookup LookupFailurePolicy
	onCheck  CheckFailurePolicy
	logger   zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the counter TTL.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithLookupFailurePolicy sets the policy for a missing or unreadable ceiling.
func WithLookupFailurePolicy(p LookupFailurePolicy) Option {
	return func(l *Limiter) { l.onLookup = p }
}

// WithCheckFailurePolicy sets the policy for a failed counter update.
func WithCheckFailurePolicy(p CheckFailurePolicy) Option {
	return func(l *Limiter) { l.onCheck = p }
}

// New creates a Limiter with a 60s window, deny-on-lookup-failure and
// allow-on-check-failure.
func New(store CounterStore, logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		window:   storage.CounterTTL,
		onLookup: DenyOnLookupFailure,
		onCheck:  AllowOnCheckFailure,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one call for the account and reports whether the ceiling
// for the category has been passed. The counter is incremented on every
// call, including ones that end up exceeded.
func (l *Limiter) Check(ctx context.Context, accountID string, category storage.Category) Result {
	log := l.logger.With().Str("account_id", accountID).Str("category", string(category)).Logger()

	limit, err := l.store.GetAccountLimit(ctx, accountID, category)
	skip := false
	if err != nil {
		log.Warn().Err(err).Str("policy", l.onLookup.String()).Msg("rate limit lookup failed")
		limit = 0
		skip = l.onLookup == AllowOnLookupFailure
	}

	count, err := l.store.IncrementCounter(ctx, accountID, category, l.window)
	if err != nil {
		log.Error().Err(err).Str("policy", l.onCheck.String()).Msg("rate limit counter update failed")
		if l.onCheck == DenyOnCheckFailure {
			return Result{Exceeded: true, Count: 0, Limit: limit}
		}
		return Result{}
	}

	if skip {
		return Result{Exceeded: false, Count: count, Limit: limit}
	}

	res := Result{Exceeded: count > limit, Count: count, Limit: limit}
	if res.Exceeded {
		log.Info().Int("count", count).Int("limit", limit).Msg("rate limit exceeded")
	}
	return res
}
