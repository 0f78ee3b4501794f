package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err, "OpenSQLite(:memory:)")
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock is a settable time source for counter expiry tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMigrationsIdempotent(t *testing.T) {
	path := t.TempDir() + "/threads.db"

	s1, err := OpenSQLite(path)
	require.NoError(t, err)
	v1, err := s1.AppliedMigrations()
	require.NoError(t, err)
	s1.Close()

	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "migrations re-applied on second open")
	assert.Equal(t, []int{1, 2}, v2)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM b WHERE c = $1 AND d = $2", pg.rebind("SELECT a FROM b WHERE c = ? AND d = ?"))

	lite := &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "WHERE c = ?", lite.rebind("WHERE c = ?"))
}

func TestQueryConversation_MissingFieldsDefaultEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.Exec(`INSERT INTO conversations (conversation_id, sent_at, subject) VALUES ('c1', '2024-01-01T00:00:00Z', 'hello')`)
	require.NoError(t, err)

	got, err := s.QueryConversation(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EmailRecord{Subject: "hello", Timestamp: "2024-01-01T00:00:00Z"}, got[0])
}

func TestQueryConversation_Unknown(t *testing.T) {
	s := openTestStore(t)
	got, err := s.QueryConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetThreadAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutThread(ctx, "c1", "acct-1"))
	require.NoError(t, s.PutThread(ctx, "c2", ""))

	got, err := s.GetThreadAccount(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got)

	_, err = s.GetThreadAccount(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound, "thread without account")

	_, err = s.GetThreadAccount(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound, "missing thread")
}

func TestGetAccountLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, "acct-1", map[Category]int{CategoryAWS: 10, CategoryAI: 3}))
	require.NoError(t, s.PutUser(ctx, "acct-2", map[Category]int{CategoryAWS: 5}))

	n, err := s.GetAccountLimit(ctx, "acct-1", CategoryAI)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.GetAccountLimit(ctx, "acct-2", CategoryAI)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "NULL ceiling reads as 0")

	_, err = s.GetAccountLimit(ctx, "ghost", CategoryAWS)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetAccountLimit(ctx, "acct-1", Category("bogus"))
	assert.Error(t, err)
}

func TestIncrementCounter_CountsWithinWindow(t *testing.T) {
	s := openTestStore(t)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.now = clock.Now
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		got, err := s.IncrementCounter(ctx, "acct-1", CategoryAI, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		clock.Advance(5 * time.Second)
	}

	// Categories and accounts are independent.
	got, err := s.IncrementCounter(ctx, "acct-1", CategoryAWS, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	got, err = s.IncrementCounter(ctx, "acct-2", CategoryAI, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestIncrementCounter_ResetsAfterTTL(t *testing.T) {
	s := openTestStore(t)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.IncrementCounter(ctx, "acct-1", CategoryAI, time.Minute)
		require.NoError(t, err)
	}

	// The window is fixed at the first write; later increments don't extend it.
	clock.Advance(61 * time.Second)
	got, err := s.IncrementCounter(ctx, "acct-1", CategoryAI, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, got, "counter should restart after expiry")

	got, err = s.IncrementCounter(ctx, "acct-1", CategoryAI, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestPutInvocation_RejectsDuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := InvocationRecord{
		ID:                "inv-1",
		AssociatedAccount: "acct-1",
		InputTokens:       10,
		OutputTokens:      5,
		TotalTokens:       15,
		LLMEmailType:      LLMEmailTypeThreadAttributes,
		ModelName:         "test-model",
		Timestamp:         time.Now().UnixMilli(),
	}
	require.NoError(t, s.PutInvocation(ctx, rec))

	err := s.PutInvocation(ctx, rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)
}

func TestListInvocations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutInvocation(ctx, InvocationRecord{
			ID:                id,
			AssociatedAccount: "acct-1",
			InputTokens:       i,
			OutputTokens:      1,
			TotalTokens:       i + 1,
			LLMEmailType:      LLMEmailTypeThreadAttributes,
			ModelName:         "m",
			Timestamp:         base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			ConversationID:    "conv-" + id,
		}))
	}
	require.NoError(t, s.PutInvocation(ctx, InvocationRecord{
		ID: "other", AssociatedAccount: "acct-2", LLMEmailType: "x", ModelName: "m", Timestamp: base.UnixMilli(),
	}))

	got, err := s.ListInvocations(ctx, "acct-1", base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID, "most recent first")
	assert.Equal(t, "conv-b", got[1].ConversationID)
	assert.Empty(t, got[1].InvocationID)
}

func TestUpdateThreadAttributes_NormalizesAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.UpdateThreadAttributes(ctx, "c1", []Attribute{
		{Key: "AI Summary", Value: "buyer is comparing two listings"},
		{Key: "Budget Range", Value: "UNKNOWN"},
	})
	require.NoError(t, err)

	// Re-extraction overwrites values and order.
	err = s.UpdateThreadAttributes(ctx, "c1", []Attribute{
		{Key: "Budget Range", Value: "$400k-$500k"},
		{Key: "AI Summary", Value: "buyer is comparing two listings"},
	})
	require.NoError(t, err)

	got, err := s.GetThreadAttributes(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []Attribute{
		{Key: "budget_range", Value: "$400k-$500k"},
		{Key: "ai_summary", Value: "buyer is comparing two listings"},
	}, got)
}
