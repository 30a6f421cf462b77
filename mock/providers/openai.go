package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// openAIModels covers the hosted and local backends that share the
// chat-completions wire format.
var openAIModels = []string{
	"gpt-4o-mini",
	"gpt-4o",
	"mistral-small-latest",
	"mistral-large-latest",
	"local-model",
}

// newOpenAIHandler returns an http.Handler that imitates the OpenAI
// chat-completions API. OpenAI, LM Studio and Mistral all speak it.
func newOpenAIHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string     `json:"model"`
			Stream   bool       `json:"stream"`
			Messages []chatTurn `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}
		if req.Stream {
			writeError(w, http.StatusBadRequest, "mock: streaming is not supported", "invalid_request_error")
			return
		}
		if req.Model == "" {
			writeError(w, http.StatusBadRequest, "model is required", "invalid_request_error")
			return
		}
		if !applyLatency(r.Context(), cfg) {
			return
		}
		if shouldError(cfg) {
			writeError(w, http.StatusInternalServerError, "mock internal server error", "server_error")
			return
		}

		inTokens := promptTokens(turnTexts(req.Messages)...)
		outTokens := cfg.ReplyWords

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      fmt.Sprintf("chatcmpl-mock%x", rand.Int64()),
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]string{
						"role":    "assistant",
						"content": fakeSentence(cfg.ReplyWords),
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     inTokens,
				"completion_tokens": outTokens,
				"total_tokens":      inTokens + outTokens,
			},
		})
	})

	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, len(openAIModels))
		for i, id := range openAIModels {
			data[i] = map[string]any{"id": id, "object": "model", "created": 1710000000, "owned_by": "mock"}
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
	})

	return mux
}
