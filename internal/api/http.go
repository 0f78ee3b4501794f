package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/kalambet/threadattrs/internal/threads"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NewRouter returns the HTTP API:
//
//	GET  /health
//	POST /v1/threads/attributes                      {"conversationId": "..."}
//	GET  /v1/threads/{conversationId}/attributes
func NewRouter(svc ThreadService, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Post("/v1/threads/attributes", handlePostAttributes(svc, logger))
	r.Get("/v1/threads/{conversationId}/attributes", handleGetAttributes(svc, logger))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handlePostAttributes(svc ThreadService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorBody{Error: "invalid request body", ErrorType: string(threads.KindMissingInput)})
			return
		}
		if req.ID() == "" {
			status, body := missingInput()
			writeJSON(w, status, body)
			return
		}

		log := requestLogger(r, logger)
		status, body := extract(r.Context(), svc, req.ID(), log)
		writeJSON(w, status, body)
	}
}

func handleGetAttributes(svc ThreadService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "conversationId")
		log := requestLogger(r, logger)
		status, body := extract(r.Context(), svc, id, log)
		writeJSON(w, status, body)
	}
}

func requestLogger(r *http.Request, logger zerolog.Logger) zerolog.Logger {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return logger.With().Str("request_id", id).Logger()
	}
	return logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
