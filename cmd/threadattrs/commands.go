package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/threadattrs/internal/api"
	"github.com/kalambet/threadattrs/internal/config"
	"github.com/kalambet/threadattrs/internal/storage"
)

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <conversation-id>...",
	Short: "Extract attributes for one or more conversations",
	Long: `Extract attributes for one or more conversations and print one JSON line
per id, in argument order.

Examples:
  threadattrs extract conv-123
  threadattrs extract --concurrency 8 conv-1 conv-2 conv-3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency < 1 {
			return fmt.Errorf("--concurrency must be at least 1, got %d", concurrency)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, cmd.ErrOrStderr(), "")
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		results := runExtract(cmd.Context(), a.service, args, concurrency, logger)

		enc := json.NewEncoder(cmd.OutOrStdout())
		failed := 0
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
			if r.Status != http.StatusOK {
				printWarning("%s: %d %s", r.ConversationID, r.Status, http.StatusText(r.Status))
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d conversations failed", failed, len(results))
		}
		return nil
	},
}

type extractResult struct {
	ConversationID string `json:"conversationId"`
	Status         int    `json:"status"`
	Body           any    `json:"body"`
}

// runExtract runs the pipeline for every id with at most concurrency
// requests in flight. Results keep the order of ids.
func runExtract(ctx context.Context, svc api.ThreadService, ids []string, concurrency int, logger zerolog.Logger) []extractResult {
	results := make([]extractResult, len(ids))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			status, body := api.Run(ctx, svc, id, logger)
			results[i] = extractResult{ConversationID: id, Status: status, Body: body}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations to the SQL store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := openSQL(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.AppliedMigrations()
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if len(versions) == 0 {
			return errors.New("no migrations applied")
		}

		printSuccess("Schema at version %d (%s)", versions[len(versions)-1], cfg.Store.Driver)
		printStatus("Applied", "%v", versions)
		return nil
	},
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded model usage for an account",
	Long: `Summarize recorded model usage for an account from the SQL store.

Examples:
  threadattrs usage --account acct-1
  threadattrs usage --account acct-1 --since 168h --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetString("account")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if account == "" {
			return errors.New("--account is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openSQL(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListInvocations(cmd.Context(), account, time.Now().Add(-since), limit)
		if err != nil {
			return fmt.Errorf("listing invocations: %w", err)
		}

		summary := summarizeUsage(account, records)
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		writeUsage(cmd.OutOrStdout(), summary, since)
		return nil
	},
}

type modelUsage struct {
	Model        string `json:"model"`
	Calls        int    `json:"calls"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	TotalTokens  int    `json:"totalTokens"`
}

type usageSummary struct {
	Account string       `json:"account"`
	Totals  modelUsage   `json:"totals"`
	Models  []modelUsage `json:"models"`
}

func summarizeUsage(account string, records []storage.InvocationRecord) usageSummary {
	byModel := make(map[string]*modelUsage)
	s := usageSummary{Account: account, Models: []modelUsage{}}
	for _, r := range records {
		m, ok := byModel[r.ModelName]
		if !ok {
			m = &modelUsage{Model: r.ModelName}
			byModel[r.ModelName] = m
		}
		for _, u := range []*modelUsage{m, &s.Totals} {
			u.Calls++
			u.InputTokens += r.InputTokens
			u.OutputTokens += r.OutputTokens
			u.TotalTokens += r.TotalTokens
		}
	}
	for _, m := range byModel {
		s.Models = append(s.Models, *m)
	}
	sort.Slice(s.Models, func(i, j int) bool {
		if s.Models[i].TotalTokens != s.Models[j].TotalTokens {
			return s.Models[i].TotalTokens > s.Models[j].TotalTokens
		}
		return s.Models[i].Model < s.Models[j].Model
	})
	return s
}

func writeUsage(w io.Writer, s usageSummary, since time.Duration) {
	fmt.Fprintf(w, "%s (last %s)\n\n", colorize(colorBold, s.Account), since)
	if s.Totals.Calls == 0 {
		fmt.Fprintln(w, "  no invocations recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  MODEL\tCALLS\tINPUT\tOUTPUT\tTOTAL")
	for _, m := range s.Models {
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\n", m.Model, m.Calls, m.InputTokens, m.OutputTokens, m.TotalTokens)
	}
	fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\n", "all", s.Totals.Calls, s.Totals.InputTokens, s.Totals.OutputTokens, s.Totals.TotalTokens)
	tw.Flush()
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.json>",
	Short: "Load accounts, threads and emails into the SQL store",
	Long: `Load accounts, threads and emails from a JSON fixture into the SQL store,
for local runs of serve, extract and mcp.

Fixture format:
  {
    "users":   [{"account_id": "acct-1", "rl_aws": 100, "rl_ai": 20}],
    "threads": [{"conversation_id": "conv-1", "account_id": "acct-1"}],
    "emails":  [{"conversation_id": "conv-1", "subject": "Hi", "body": "...",
                 "sender": "a@example.com", "timestamp": "2024-01-01T10:00:00Z",
                 "type": "inbound"}]
  }`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fx, err := readFixture(args[0])
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := openSQL(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := seedStore(cmd.Context(), store, fx); err != nil {
			return err
		}
		printSuccess("Seeded %d users, %d threads, %d emails", len(fx.Users), len(fx.Threads), len(fx.Emails))
		return nil
	},
}

type fixture struct {
	Users []struct {
		AccountID    string `json:"account_id"`
		RateLimitAWS *int   `json:"rl_aws"`
		RateLimitAI  *int   `json:"rl_ai"`
	} `json:"users"`
	Threads []struct {
		ConversationID string `json:"conversation_id"`
		AccountID      string `json:"account_id"`
	} `json:"threads"`
	Emails []struct {
		ConversationID string `json:"conversation_id"`
		storage.EmailRecord
	} `json:"emails"`
}

// seeder is the write side of the SQL store used by seed.
type seeder interface {
	PutUser(ctx context.Context, accountID string, limits map[storage.Category]int) error
	PutThread(ctx context.Context, conversationID, accountID string) error
	PutEmail(ctx context.Context, conversationID string, e storage.EmailRecord) error
}

func readFixture(path string) (fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture{}, fmt.Errorf("reading fixture: %w", err)
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return fixture{}, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	return fx, nil
}

func seedStore(ctx context.Context, s seeder, fx fixture) error {
	for _, u := range fx.Users {
		if u.AccountID == "" {
			return errors.New("fixture user without account_id")
		}
		limits := make(map[storage.Category]int)
		if u.RateLimitAWS != nil {
			limits[storage.CategoryAWS] = *u.RateLimitAWS
		}
		if u.RateLimitAI != nil {
			limits[storage.CategoryAI] = *u.RateLimitAI
		}
		if err := s.PutUser(ctx, u.AccountID, limits); err != nil {
			return fmt.Errorf("storing user %s: %w", u.AccountID, err)
		}
	}
	for _, t := range fx.Threads {
		if t.ConversationID == "" {
			return errors.New("fixture thread without conversation_id")
		}
		if err := s.PutThread(ctx, t.ConversationID, t.AccountID); err != nil {
			return fmt.Errorf("storing thread %s: %w", t.ConversationID, err)
		}
	}
	for _, e := range fx.Emails {
		if e.ConversationID == "" {
			return errors.New("fixture email without conversation_id")
		}
		if err := s.PutEmail(ctx, e.ConversationID, e.EmailRecord); err != nil {
			return fmt.Errorf("storing email for %s: %w", e.ConversationID, err)
		}
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(w, "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().Int("concurrency", 4, "maximum conversations processed at once")

	usageCmd.Flags().String("account", "", "account id (required)")
	usageCmd.Flags().Duration("since", 24*time.Hour, "look-back window")
	usageCmd.Flags().Int("limit", 1000, "maximum invocation records read")
	usageCmd.Flags().Bool("json", false, "print the summary as JSON")

	configCmd.AddCommand(configShowCmd)
}
