package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/threadattrs/internal/threads"
)

func TestHealth(t *testing.T) {
	h := NewRouter(okService(), zerolog.Nop())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPostAttributes_Success(t *testing.T) {
	svc := okService()
	h := NewRouter(svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/threads/attributes", strings.NewReader(`{"conversationId":"c1"}`))
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"c1"}, svc.calls)

	body := rec.Body.String()
	assert.True(t, strings.Index(body, `"sentiment"`) < strings.Index(body, `"urgency"`), "attribute order kept: %s", body)

	var got struct {
		Attributes map[string]string `json:"attributes"`
		Metadata   map[string]any    `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, map[string]string{"sentiment": "positive", "urgency": "high"}, got.Attributes)
	assert.Equal(t, "c1", got.Metadata["conversationId"])
	assert.Equal(t, "acct-1", got.Metadata["accountId"])
	assert.EqualValues(t, 3, got.Metadata["emailCount"])
	assert.Contains(t, got.Metadata, "processingTime")
}

func TestPostAttributes_SnakeCaseKey(t *testing.T) {
	svc := okService()
	h := NewRouter(svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/threads/attributes", strings.NewReader(`{"conversation_id":"c2"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"c2"}, svc.calls)
}

func TestPostAttributes_MissingInput(t *testing.T) {
	for name, body := range map[string]string{
		"empty object": `{}`,
		"blank id":     `{"conversationId":"  "}`,
		"not json":     `conversation please`,
	} {
		t.Run(name, func(t *testing.T) {
			svc := okService()
			h := NewRouter(svc, zerolog.Nop())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/threads/attributes", strings.NewReader(body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"errorType":"MissingInput"`)
			assert.Empty(t, svc.calls)
		})
	}
}

func TestGetAttributes_PathParam(t *testing.T) {
	svc := okService()
	h := NewRouter(svc, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/threads/conv-42/attributes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"conv-42"}, svc.calls)
}

func TestErrorEnvelope(t *testing.T) {
	for kind, status := range statusByKind {
		t.Run(string(kind), func(t *testing.T) {
			h := NewRouter(failingService(kind, "detail for "+string(kind), errSecret), zerolog.Nop())

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/threads/c1/attributes", nil))

			assert.Equal(t, status, rec.Code)

			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(kind), body.ErrorType)
			assert.NotContains(t, rec.Body.String(), "10.0.0.5", "cause never leaks")
			if kind == threads.KindInternalError {
				assert.Equal(t, "internal server error", body.Error)
			} else {
				assert.Equal(t, "detail for "+string(kind), body.Error)
			}
		})
	}
}

func TestErrorEnvelope_UntypedErrorIsInternal(t *testing.T) {
	h := NewRouter(&stubService{err: errSecret}, zerolog.Nop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/threads/c1/attributes", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error","errorType":"InternalError"}`, rec.Body.String())
}
