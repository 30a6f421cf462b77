package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/providers"
	"github.com/nulpointcorp/llm-dashboard/internal/providers/anthropic"
	"github.com/nulpointcorp/llm-dashboard/internal/providers/lmstudio"
	"github.com/nulpointcorp/llm-dashboard/internal/providers/mistral"
	"github.com/nulpointcorp/llm-dashboard/internal/providers/ollama"
	"github.com/nulpointcorp/llm-dashboard/internal/providers/openai"
)

const mockKey = "sk-mock-key"

func request(model string) *providers.GenerateRequest {
	return &providers.GenerateRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: "Translate to English."},
			{Role: "user", Content: "Bonjour tout le monde"},
		},
		MaxTokens: 64,
	}
}

// TestTransportsAgainstMocks drives every HTTP transport through a full
// health, listing and generation round against its mock upstream.
func TestTransportsAgainstMocks(t *testing.T) {
	cfg := Config{ReplyWords: 5}

	ollamaSrv := httptest.NewServer(newOllamaHandler(cfg))
	defer ollamaSrv.Close()
	openaiSrv := httptest.NewServer(newOpenAIHandler(cfg))
	defer openaiSrv.Close()
	anthropicSrv := httptest.NewServer(newAnthropicHandler(cfg))
	defer anthropicSrv.Close()

	cases := []struct {
		transport providers.Transport
		model     string
	}{
		{ollama.New(ollamaSrv.URL), "llama3.2:latest"},
		{lmstudio.New(openaiSrv.URL+"/v1", ""), "local-model"},
		{openai.New(mockKey, openai.WithBaseURL(openaiSrv.URL+"/v1")), "gpt-4o-mini"},
		{mistral.New(mockKey, mistral.WithBaseURL(openaiSrv.URL+"/v1")), "mistral-small-latest"},
		{anthropic.New(mockKey, anthropic.WithBaseURL(anthropicSrv.URL)), "claude-3-5-haiku-latest"},
	}

	for _, tc := range cases {
		t.Run(tc.transport.Name(), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if !tc.transport.Configured() {
				t.Fatal("transport should be configured")
			}
			if err := tc.transport.CheckHealth(ctx); err != nil {
				t.Fatalf("CheckHealth: %v", err)
			}

			models, err := tc.transport.ListModels(ctx)
			if err != nil {
				t.Fatalf("ListModels: %v", err)
			}
			found := false
			for _, m := range models {
				found = found || m == tc.model
			}
			if !found {
				t.Errorf("model %q missing from %v", tc.model, models)
			}

			resp, err := tc.transport.Generate(ctx, request(tc.model))
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if resp.Content == "" {
				t.Error("expected non-empty reply")
			}
			if resp.Usage.OutputTokens != cfg.ReplyWords {
				t.Errorf("expected %d output tokens, got %d", cfg.ReplyWords, resp.Usage.OutputTokens)
			}
		})
	}
}

func TestOllamaMock_ErrorRateYieldsServerError(t *testing.T) {
	srv := httptest.NewServer(newOllamaHandler(Config{ReplyWords: 3, ErrorRate: 1}))
	defer srv.Close()

	_, err := ollama.New(srv.URL).Generate(context.Background(), request("llama3.2"))

	var sc providers.StatusCoder
	if !errors.As(err, &sc) || sc.HTTPStatus() != http.StatusInternalServerError {
		t.Fatalf("expected upstream 500, got %v", err)
	}
}

func TestOllamaMock_LatencyHonoursClientDeadline(t *testing.T) {
	srv := httptest.NewServer(newOllamaHandler(Config{ReplyWords: 3, LatencyMS: 10_000}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := ollama.New(srv.URL).Generate(ctx, request("llama3.2")); err == nil {
		t.Fatal("expected deadline error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("generation did not stop at the client deadline")
	}
}

func TestGeminiMock_UnknownMethod(t *testing.T) {
	srv := httptest.NewServer(newGeminiHandler(Config{ReplyWords: 3}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1beta/models/gemini-2.0-flash:countTokens", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
