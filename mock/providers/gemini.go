package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

var geminiModels = []string{"gemini-2.0-flash", "gemini-1.5-pro"}

// newGeminiHandler returns an http.Handler that imitates the Gemini API as
// used by google.golang.org/genai:
//
//	POST {base}/models/{model}:generateContent
//	GET  {base}/models
//
// where {base} is /v1beta.
func newGeminiHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1beta/models/{call}", func(w http.ResponseWriter, r *http.Request) {
		model, method, ok := strings.Cut(r.PathValue("call"), ":")
		if !ok || method != "generateContent" {
			writeGeminiError(w, http.StatusNotFound, fmt.Sprintf("mock: unsupported method %q", method))
			return
		}

		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGeminiError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if !applyLatency(r.Context(), cfg) {
			return
		}
		if shouldError(cfg) {
			writeGeminiError(w, http.StatusInternalServerError, "mock internal error")
			return
		}

		var texts []string
		for _, c := range req.Contents {
			for _, p := range c.Parts {
				texts = append(texts, p.Text)
			}
		}
		inTokens := promptTokens(texts...)
		outTokens := cfg.ReplyWords

		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]string{{"text": fakeSentence(cfg.ReplyWords)}},
				},
				"finishReason": "STOP",
				"index":        0,
			}},
			"usageMetadata": map[string]int{
				"promptTokenCount":     inTokens,
				"candidatesTokenCount": outTokens,
				"totalTokenCount":      inTokens + outTokens,
			},
			"responseId":   fmt.Sprintf("gemini-%x", rand.Int64()),
			"modelVersion": model,
		})
	})

	mux.HandleFunc("GET /v1beta/models", func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]any, len(geminiModels))
		for i, m := range geminiModels {
			models[i] = map[string]any{
				"name":        "models/" + m,
				"displayName": m,
				"supportedGenerationMethods": []string{"generateContent"},
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": models})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeGeminiError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path))
	})

	return mux
}

func writeGeminiError(w http.ResponseWriter, status int, msg string) {
	code := "INTERNAL"
	switch status {
	case http.StatusBadRequest:
		code = "INVALID_ARGUMENT"
	case http.StatusNotFound:
		code = "NOT_FOUND"
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"status":  code,
		},
	})
}
