package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert-only write hits an existing key.
var ErrDuplicate = errors.New("duplicate record")

// LLMEmailTypeThreadAttributes tags invocation records written by the
// thread-attribute pipeline.
const LLMEmailTypeThreadAttributes = "thread_attributes"

// EmailRecord is one stored email of a conversation.
type EmailRecord struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Sender    string `json:"sender"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

// InvocationRecord is the audit row for a single model call.
type InvocationRecord struct {
	ID                string `json:"id" dynamodbav:"id"`
	AssociatedAccount string `json:"associated_account" dynamodbav:"associated_account"`
	InputTokens       int    `json:"input_tokens" dynamodbav:"input_tokens"`
	OutputTokens      int    `json:"output_tokens" dynamodbav:"output_tokens"`
	TotalTokens       int    `json:"total_tokens" dynamodbav:"total_tokens"`
	LLMEmailType      string `json:"llm_email_type" dynamodbav:"llm_email_type"`
	ModelName         string `json:"model_name" dynamodbav:"model_name"`
	Timestamp         int64  `json:"timestamp" dynamodbav:"timestamp"`
	ConversationID    string `json:"conversation_id,omitempty" dynamodbav:"conversation_id,omitempty"`
	InvocationID      string `json:"invocation_id,omitempty" dynamodbav:"invocation_id,omitempty"`
}

// Category names a rate-limit bucket. Each category has its own ceiling
// field on the account record and its own counter.
type Category string

const (
	// CategoryAWS covers general infrastructure calls.
	CategoryAWS Category = "aws"
	// CategoryAI covers model usage.
	CategoryAI Category = "ai"
)

// Categories lists every known category in check order.
var Categories = []Category{CategoryAWS, CategoryAI}

// LimitField returns the account record field holding the ceiling.
func (c Category) LimitField() string {
	return "rl_" + string(c)
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategory maps a case-insensitive name to a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown rate-limit category %q", s)
	}
	return c, nil
}

// AttributeName normalizes a model-emitted attribute key into the column
// name used when attributes are stored on a thread ("AI Summary" becomes
// "ai_summary").
func AttributeName(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), " ", "_")
}

// Attribute is one extracted key/value pair, kept in model output order.
type Attribute struct {
	Key   string
	Value string
}
