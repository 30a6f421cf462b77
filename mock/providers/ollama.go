package main

import (
	"encoding/json"
	"net/http"
	"time"
)

var ollamaModels = []string{"llama3.2:latest", "mistral:7b", "qwen2.5:7b"}

// newOllamaHandler returns an http.Handler that imitates Ollama's native API.
func newOllamaHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": "0.5.7-mock"})
	})

	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]string, len(ollamaModels))
		for i, m := range ollamaModels {
			models[i] = map[string]string{"name": m, "model": m}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	})

	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string     `json:"model"`
			Messages []chatTurn `json:"messages"`
			Stream   bool       `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.Stream {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mock: streaming is not supported"})
			return
		}
		if req.Model == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model is required"})
			return
		}
		if !applyLatency(r.Context(), cfg) {
			return
		}
		if shouldError(cfg) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "mock internal error"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"model":             req.Model,
			"created_at":        time.Now().UTC().Format(time.RFC3339Nano),
			"message":           chatTurn{Role: "assistant", Content: fakeSentence(cfg.ReplyWords)},
			"done":              true,
			"prompt_eval_count": promptTokens(turnTexts(req.Messages)...),
			"eval_count":        cfg.ReplyWords,
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "mock: unknown path " + r.URL.Path})
	})

	return mux
}
