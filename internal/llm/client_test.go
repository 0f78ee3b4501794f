package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete_SendsRequest(t *testing.T) {
	var got ChatRequest
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"sentiment: positive"}}],"usage":{"prompt_tokens":11,"completion_tokens":4}}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL + "/"})
	resp, err := c.Complete(context.Background(), ChatRequest{
		Model:       "m",
		Messages:    []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "u"}},
		Temperature: 0.1,
		MaxTokens:   500,
		Stop:        DefaultStop,
		Stream:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", auth)
	assert.Equal(t, "/chat/completions", path)
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, []string{"<|im_end|>", "<|endoftext|>"}, got.Stop)
	assert.False(t, got.Stream, "stream is always off")

	assert.Equal(t, "cmpl-1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "sentiment: positive", resp.Choices[0].Message.Content)
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 4}, resp.Usage)
}

func TestComplete_Non200(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), ChatRequest{Model: "m"})

	var httpErr *UpstreamHTTPError
	require.True(t, errors.As(err, &httpErr), "got %T: %v", err, err)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
	assert.Contains(t, httpErr.Body, "slow down")
	assert.Equal(t, 1, calls, "no retry")
}

func TestComplete_ShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>gateway</html>"},
		{name: "missing choices", body: `{"id":"x","usage":{"prompt_tokens":1}}`},
		{name: "choices wrong type", body: `{"choices":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := c.Complete(context.Background(), ChatRequest{Model: "m"})

			var shapeErr *UpstreamShapeError
			assert.True(t, errors.As(err, &shapeErr), "got %T: %v", err, err)
		})
	}
}

func TestComplete_MissingUsageDefaultsToZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := c.Complete(context.Background(), ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Empty(t, resp.Choices)
	assert.Equal(t, Usage{}, resp.Usage)
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Complete(context.Background(), ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
