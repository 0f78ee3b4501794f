package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore is a Backend over database/sql. It runs on SQLite for local use
// and tests, and on Postgres for shared deployments.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database at path and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func OpenSQLite(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	return newSQLStore(db, dialectSQLite)
}

// OpenPostgres connects to Postgres using the pgx stdlib driver and runs
// pending migrations.
func OpenPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// migrate applies embedded SQL migrations that haven't been run yet.
func (s *SQLStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow(s.rebind("SELECT COUNT(*) FROM schema_version WHERE version = ?"), version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration %d: %w", version, err)
			}
		}
		if _, err := tx.Exec(s.rebind("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)"),
			version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func splitStatements(content string) []string {
	var stmts []string
	for _, part := range strings.Split(content, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *SQLStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Conversations ---

func (s *SQLStore) QueryConversation(ctx context.Context, conversationID string) ([]EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT subject, body, sender, sent_at, email_type
		FROM conversations WHERE conversation_id = ? ORDER BY sent_at ASC`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EmailRecord
	for rows.Next() {
		var subject, body, sender, emailType sql.NullString
		var r EmailRecord
		if err := rows.Scan(&subject, &body, &sender, &r.Timestamp, &emailType); err != nil {
			return nil, err
		}
		r.Subject = subject.String
		r.Body = body.String
		r.Sender = sender.String
		r.Type = emailType.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// PutEmail stores one email of a conversation, replacing an email with the
// same timestamp.
func (s *SQLStore) PutEmail(ctx context.Context, conversationID string, e EmailRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO conversations (conversation_id, sent_at, subject, body, sender, email_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, sent_at) DO UPDATE SET
			subject = excluded.subject, body = excluded.body,
			sender = excluded.sender, email_type = excluded.email_type`),
		conversationID, e.Timestamp, e.Subject, e.Body, e.Sender, e.Type,
	)
	return err
}

// --- Threads ---

func (s *SQLStore) GetThreadAccount(ctx context.Context, conversationID string) (string, error) {
	var account sql.NullString
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT associated_account FROM threads WHERE conversation_id = ?`), conversationID).Scan(&account)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !account.Valid || account.String == "" {
		return "", ErrNotFound
	}
	return account.String, nil
}

// PutThread creates or updates the thread row owning conversationID.
func (s *SQLStore) PutThread(ctx context.Context, conversationID, accountID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO threads (conversation_id, associated_account) VALUES (?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET associated_account = excluded.associated_account`),
		conversationID, nullIfEmpty(accountID),
	)
	return err
}

func (s *SQLStore) UpdateThreadAttributes(ctx context.Context, conversationID string, attrs []Attribute) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning attribute transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC().Format(time.RFC3339)
	for i, a := range attrs {
		if _, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO thread_attributes (conversation_id, name, value, position, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (conversation_id, name) DO UPDATE SET
				value = excluded.value, position = excluded.position, updated_at = excluded.updated_at`),
			conversationID, AttributeName(a.Key), a.Value, i, now,
		); err != nil {
			return fmt.Errorf("writing attribute %q: %w", a.Key, err)
		}
	}
	return tx.Commit()
}

// GetThreadAttributes returns the stored attributes of a thread keyed by
// their normalized names, in the order they were extracted.
func (s *SQLStore) GetThreadAttributes(ctx context.Context, conversationID string) ([]Attribute, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT name, value FROM thread_attributes WHERE conversation_id = ? ORDER BY position ASC, name ASC`), conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []Attribute
	for rows.Next() {
		var a Attribute
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// --- Accounts & rate limits ---

func (s *SQLStore) GetAccountLimit(ctx context.Context, accountID string, category Category) (int, error) {
	if !category.Valid() {
		return 0, fmt.Errorf("unknown rate-limit category %q", category)
	}
	var limit sql.NullInt64
	// The column name comes from the closed Category set.
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+category.LimitField()+` FROM users WHERE account_id = ?`), accountID).Scan(&limit)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return int(limit.Int64), nil
}

// PutUser creates or replaces an account with per-category ceilings.
// Categories absent from limits are stored as NULL (read back as 0).
func (s *SQLStore) PutUser(ctx context.Context, accountID string, limits map[Category]int) error {
	nullable := func(c Category) any {
		if v, ok := limits[c]; ok {
			return v
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO users (account_id, rl_aws, rl_ai) VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET rl_aws = excluded.rl_aws, rl_ai = excluded.rl_ai`),
		accountID, nullable(CategoryAWS), nullable(CategoryAI),
	)
	return err
}

func (s *SQLStore) IncrementCounter(ctx context.Context, accountID string, category Category, ttl time.Duration) (int, error) {
	now := s.now().Unix()
	expires := s.now().Add(ttl).Unix()

	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO rate_limit_counters (account_id, category, invocations, ttl) VALUES (?, ?, 1, ?)
		ON CONFLICT (account_id, category) DO UPDATE SET
			invocations = CASE WHEN rate_limit_counters.ttl <= ? THEN 1 ELSE rate_limit_counters.invocations + 1 END,
			ttl = CASE WHEN rate_limit_counters.ttl <= ? THEN excluded.ttl ELSE rate_limit_counters.ttl END
		RETURNING invocations`),
		accountID, string(category), expires, now, now,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("incrementing counter: %w", err)
	}
	return count, nil
}

// --- Invocations ---

func (s *SQLStore) PutInvocation(ctx context.Context, rec InvocationRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO invocations (id, associated_account, input_tokens, output_tokens, total_tokens, llm_email_type, model_name, timestamp_ms, conversation_id, invocation_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.AssociatedAccount, rec.InputTokens, rec.OutputTokens, rec.TotalTokens,
		rec.LLMEmailType, rec.ModelName, rec.Timestamp, nullIfEmpty(rec.ConversationID), nullIfEmpty(rec.InvocationID),
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("invocation %s: %w", rec.ID, ErrDuplicate)
	}
	return err
}

// ListInvocations returns an account's invocation records newer than since,
// most recent first.
func (s *SQLStore) ListInvocations(ctx context.Context, accountID string, since time.Time, limit int) ([]InvocationRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, associated_account, input_tokens, output_tokens, total_tokens, llm_email_type, model_name, timestamp_ms, conversation_id, invocation_id
		FROM invocations WHERE associated_account = ? AND timestamp_ms >= ?
		ORDER BY timestamp_ms DESC LIMIT ?`),
		accountID, since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InvocationRecord
	for rows.Next() {
		var r InvocationRecord
		var conversationID, invocationID sql.NullString
		if err := rows.Scan(&r.ID, &r.AssociatedAccount, &r.InputTokens, &r.OutputTokens, &r.TotalTokens,
			&r.LLMEmailType, &r.ModelName, &r.Timestamp, &conversationID, &invocationID); err != nil {
			return nil, err
		}
		r.ConversationID = conversationID.String
		r.InvocationID = invocationID.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
