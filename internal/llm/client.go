package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultBaseURL is the Together AI OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.together.xyz/v1"
	// DefaultTimeout matches the serverless invocation budget.
	DefaultTimeout = 30 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client sends chat completion requests. It never retries.
type Client struct {
	http *resty.Client
}

// NewClient creates a Client. Empty BaseURL and zero Timeout take defaults.
func NewClient(cfg ClientConfig) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &Client{http: c}
}

// Complete posts req to /chat/completions and decodes the reply.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(&req).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("model request: %w", err)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		return nil, &UpstreamHTTPError{Status: resp.StatusCode(), Body: string(body)}
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &UpstreamShapeError{Reason: "body is not a JSON object", Body: string(body)}
	}
	if _, ok := probe["choices"]; !ok {
		return nil, &UpstreamShapeError{Reason: "missing choices", Body: string(body)}
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &UpstreamShapeError{Reason: err.Error(), Body: string(body)}
	}
	return &out, nil
}
