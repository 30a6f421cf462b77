// Package services holds the callers of the gateway: translation, chat,
// prompt improvement and summarization. Each one turns its own request shape
// into a llm.GenerationRequest and lets the gateway do the rest.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

// SourceIdentity marks a result produced without calling the gateway.
const SourceIdentity gateway.Source = "identity"

// Generator is the part of *gateway.Gateway the services need.
type Generator interface {
	GenerateDetailed(ctx context.Context, req llm.GenerationRequest, timeout time.Duration) (gateway.Outcome, error)
}

// DefaultModels maps a provider to the model used when a request names none.
var DefaultModels = map[string]string{
	llm.ProviderOllama:    "llama3.2",
	llm.ProviderLMStudio:  "local-model",
	llm.ProviderGoogle:    "gemini-2.0-flash",
	llm.ProviderAnthropic: "claude-3-5-haiku-latest",
	llm.ProviderMistral:   "mistral-small-latest",
	llm.ProviderOpenAI:    "gpt-4o-mini",
}

// Config is shared by every service.
type Config struct {
	// Models overrides DefaultModels per provider.
	Models map[string]string
	// Timeout per generation; zero uses the gateway default.
	Timeout time.Duration
	// MaxHistory caps the chat turns sent upstream. Default 10.
	MaxHistory int
}

type base struct {
	gen     Generator
	models  map[string]string
	timeout time.Duration
}

func newBase(gen Generator, cfg Config) base {
	models := make(map[string]string, len(DefaultModels))
	for p, m := range DefaultModels {
		models[p] = m
	}
	for p, m := range cfg.Models {
		if m != "" {
			models[p] = m
		}
	}
	return base{gen: gen, models: models, timeout: cfg.Timeout}
}

// Model returns model, or the configured default for provider.
func (b base) Model(provider, model string) string {
	if model = strings.TrimSpace(model); model != "" {
		return model
	}
	return b.models[provider]
}

func (b base) generate(ctx context.Context, req llm.GenerationRequest) (gateway.Outcome, error) {
	req.Model = b.Model(req.Provider, req.Model)
	return b.gen.GenerateDetailed(ctx, req, b.timeout)
}

func invalid(provider, format string, args ...any) error {
	return &gateway.GatewayError{
		Kind:     gateway.InvalidRequest,
		Provider: provider,
		Err:      fmt.Errorf(format, args...),
	}
}
