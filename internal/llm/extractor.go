package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kalambet/threadattrs/internal/prompts"
	"github.com/kalambet/threadattrs/internal/storage"
)

// Model request defaults.
const (
	DefaultModel       = "meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 500
)

// DefaultStop ends generation at chat-template markers.
var DefaultStop = []string{"<|im_end|>", "<|endoftext|>"}

// Completer sends one chat completion request.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// UsageRecorder persists token accounting. It reports success and never
// fails the caller.
type UsageRecorder interface {
	StoreInvocation(ctx context.Context, rec storage.InvocationRecord) bool
}

// ExtractorConfig holds request parameters and reply handling options.
type ExtractorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	Prompt      prompts.Prompt
	// RejectEmpty turns a reply with no parseable lines into a ValidationError.
	RejectEmpty bool
}

// Extractor turns a transcript into attributes with one model call.
type Extractor struct {
	client Completer
	usage  UsageRecorder
	cfg    ExtractorConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewExtractor creates an Extractor. Zero-valued Model, MaxTokens and Stop
// take package defaults; usage may be nil to skip accounting.
func NewExtractor(client Completer, usage UsageRecorder, cfg ExtractorConfig, logger zerolog.Logger) *Extractor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Stop == nil {
		cfg.Stop = DefaultStop
	}
	return &Extractor{client: client, usage: usage, cfg: cfg, logger: logger, now: time.Now}
}

// ExtractAttributes sends the transcript to the model and parses its reply.
// Token usage is recorded when accountID is non-empty; a recording failure
// is logged only.
func (e *Extractor) ExtractAttributes(ctx context.Context, transcript, accountID, conversationID string) (Attributes, error) {
	log := e.logger.With().Str("conversation_id", conversationID).Str("model", e.cfg.Model).Logger()

	req := ChatRequest{
		Model: e.cfg.Model,
		Messages: []Message{
			{Role: "system", Content: e.cfg.Prompt.System},
			{Role: "user", Content: e.cfg.Prompt.UserMessage(transcript)},
		},
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		Stop:        e.cfg.Stop,
	}

	start := time.Now()
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("model call failed")
		return Attributes{}, err
	}
	log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("model call completed")

	if accountID != "" && e.usage != nil {
		rec := storage.InvocationRecord{
			AssociatedAccount: accountID,
			InputTokens:       resp.Usage.PromptTokens,
			OutputTokens:      resp.Usage.CompletionTokens,
			TotalTokens:       resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
			LLMEmailType:      storage.LLMEmailTypeThreadAttributes,
			ModelName:         e.cfg.Model,
			Timestamp:         e.now().UnixMilli(),
			ConversationID:    conversationID,
			InvocationID:      resp.ID,
		}
		if !e.usage.StoreInvocation(ctx, rec) {
			log.Warn().Str("account_id", accountID).Msg("token usage not recorded")
		}
	}

	if len(resp.Choices) == 0 {
		return Attributes{}, &UpstreamShapeError{Reason: "empty choices"}
	}

	attrs := ParseAttributes(resp.Choices[0].Message.Content)
	if attrs.Len() == 0 {
		log.Warn().Str("content", truncate(resp.Choices[0].Message.Content, maxErrorBody)).Msg("model reply has no attribute lines")
		if e.cfg.RejectEmpty {
			return Attributes{}, &ValidationError{Err: ErrEmptyAttributes}
		}
	}
	return attrs, nil
}
