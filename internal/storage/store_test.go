package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingBackend fails every call with err.
type failingBackend struct {
	err error
}

func (f failingBackend) QueryConversation(context.Context, string) ([]EmailRecord, error) {
	return nil, f.err
}
func (f failingBackend) GetThreadAccount(context.Context, string) (string, error) { return "", f.err }
func (f failingBackend) GetAccountLimit(context.Context, string, Category) (int, error) {
	return 0, f.err
}
func (f failingBackend) IncrementCounter(context.Context, string, Category, time.Duration) (int, error) {
	return 0, f.err
}
func (f failingBackend) PutInvocation(context.Context, InvocationRecord) error { return f.err }
func (f failingBackend) UpdateThreadAttributes(context.Context, string, []Attribute) error {
	return f.err
}
func (f failingBackend) Close() error { return nil }

func TestClient_FetchEmailChainSortsByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, ts := range []string{"2024-03-01T10:00:00Z", "2024-01-01T10:00:00Z", "2024-02-01T10:00:00Z"} {
		require.NoError(t, s.PutEmail(ctx, "c1", EmailRecord{Subject: "s-" + ts, Timestamp: ts}))
	}

	c := NewClient(s, zerolog.Nop())
	chain := c.FetchEmailChain(ctx, "c1")

	require.Len(t, chain, 3)
	assert.Equal(t, "2024-01-01T10:00:00Z", chain[0].Timestamp)
	assert.Equal(t, "2024-02-01T10:00:00Z", chain[1].Timestamp)
	assert.Equal(t, "2024-03-01T10:00:00Z", chain[2].Timestamp)
}

func TestClient_FailuresCollapseToSentinels(t *testing.T) {
	c := NewClient(failingBackend{err: errors.New("connection refused")}, zerolog.Nop())
	ctx := context.Background()

	chain := c.FetchEmailChain(ctx, "c1")
	assert.NotNil(t, chain)
	assert.Empty(t, chain, "store error looks like an empty conversation")

	_, ok := c.ResolveAccountID(ctx, "c1")
	assert.False(t, ok)

	assert.Equal(t, 0, c.IncrementAndFetchCounter(ctx, "acct-1", CategoryAI))
	assert.False(t, c.StoreInvocation(ctx, InvocationRecord{AssociatedAccount: "acct-1"}))
	assert.False(t, c.StoreThreadAttributes(ctx, "c1", []Attribute{{Key: "k", Value: "v"}}))
}

func TestClient_ResolveAccountID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutThread(ctx, "c1", "acct-1"))

	c := NewClient(s, zerolog.Nop())

	got, ok := c.ResolveAccountID(ctx, "c1")
	require.True(t, ok)
	assert.Equal(t, "acct-1", got)

	_, ok = c.ResolveAccountID(ctx, "unknown")
	assert.False(t, ok)
}

func TestClient_StoreInvocationGeneratesFreshIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := NewClient(s, zerolog.Nop())

	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("inv-%d", n)
	}

	rec := InvocationRecord{ID: "caller-supplied", AssociatedAccount: "acct-1", LLMEmailType: LLMEmailTypeThreadAttributes, ModelName: "m"}
	require.True(t, c.StoreInvocation(ctx, rec))
	require.True(t, c.StoreInvocation(ctx, rec))

	got, err := s.ListInvocations(ctx, "acct-1", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{"inv-1", "inv-2"}, ids)
}

func TestClient_StoreThreadAttributesEmptyIsNoop(t *testing.T) {
	c := NewClient(failingBackend{err: errors.New("boom")}, zerolog.Nop())
	assert.True(t, c.StoreThreadAttributes(context.Background(), "c1", nil))
}

func TestCategory(t *testing.T) {
	c, err := ParseCategory(" AI ")
	require.NoError(t, err)
	assert.Equal(t, CategoryAI, c)
	assert.Equal(t, "rl_ai", c.LimitField())
	assert.Equal(t, "rl_aws", CategoryAWS.LimitField())

	_, err = ParseCategory("gpu")
	assert.Error(t, err)
}

func TestAttributeName(t *testing.T) {
	assert.Equal(t, "ai_summary", AttributeName("AI Summary"))
	assert.Equal(t, "preferred_property_types", AttributeName("Preferred Property Types"))
	assert.Equal(t, "sentiment", AttributeName("sentiment"))
}
