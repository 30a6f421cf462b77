package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
)

var anthropicModels = []string{"claude-3-5-haiku-latest", "claude-3-5-sonnet-latest"}

// newAnthropicHandler returns an http.Handler that imitates the Anthropic
// Messages API.
func newAnthropicHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Stream    bool   `json:"stream"`
			Messages  []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAnthropicError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}
		if req.Stream {
			writeAnthropicError(w, http.StatusBadRequest, "mock: streaming is not supported", "invalid_request_error")
			return
		}
		if req.Model == "" || req.MaxTokens <= 0 {
			writeAnthropicError(w, http.StatusBadRequest, "model and max_tokens are required", "invalid_request_error")
			return
		}
		if !applyLatency(r.Context(), cfg) {
			return
		}
		if shouldError(cfg) {
			writeAnthropicError(w, http.StatusInternalServerError, "mock internal error", "api_error")
			return
		}

		// Content may be a string or a block array; its raw size is close
		// enough for usage numbers.
		texts := make([]string, len(req.Messages))
		for i, m := range req.Messages {
			texts[i] = string(m.Content)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            fmt.Sprintf("msg_%x", rand.Int64()),
			"type":          "message",
			"role":          "assistant",
			"model":         req.Model,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]string{
				{"type": "text", "text": fakeSentence(min(cfg.ReplyWords, req.MaxTokens))},
			},
			"usage": map[string]int{
				"input_tokens":  promptTokens(texts...),
				"output_tokens": min(cfg.ReplyWords, req.MaxTokens),
			},
		})
	})

	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, len(anthropicModels))
		for i, id := range anthropicModels {
			data[i] = map[string]any{
				"id":           id,
				"type":         "model",
				"display_name": id,
				"created_at":   "2024-10-22T00:00:00Z",
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":     data,
			"has_more": false,
			"first_id": anthropicModels[0],
			"last_id":  anthropicModels[len(anthropicModels)-1],
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found_error")
	})

	return mux
}

func writeAnthropicError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    typ,
			"message": msg,
		},
	})
}
