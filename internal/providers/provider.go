// Package providers defines the transport contract implemented by every LLM
// backend (Ollama, LM Studio, Google, Anthropic, Mistral, OpenAI) and the
// registry that holds the configured transports.
//
// Each backend lives in its own sub-package and implements Transport against
// its own wire protocol. A transport performs exactly one network call per
// operation and honours the deadline of the context it is given; caching,
// de-duplication and retry policy live in the gateway, never here.
package providers

import (
	"context"
	"net/url"
	"strings"
	"time"
)

type (
	// Message is a single turn sent to the backend (role + text content).
	Message struct {
		Role    string
		Content string
	}

	// Usage holds token usage stats.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// GenerateRequest is the normalized input of Transport.Generate.
	GenerateRequest struct {
		Model       string
		Messages    []Message
		Temperature float64
		MaxTokens   int
	}

	// GenerateResponse is the normalized output of Transport.Generate.
	GenerateResponse struct {
		Model   string
		Content string
		Usage   Usage
	}
)

// Transport is one LLM backend.
type Transport interface {
	Name() string

	// Configured reports, without I/O, whether the transport has what it
	// needs (credential or endpoint) to possibly succeed.
	Configured() bool

	CheckHealth(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// StatusCoder is implemented by transport errors that carry the upstream
// HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Default timeouts.
const (
	GenerateTimeout = 60 * time.Second
	HealthTimeout   = 5 * time.Second
	ModelsTimeout   = 10 * time.Second

	// HTTPClientTimeout is a hard ceiling on any single upstream HTTP call;
	// the per-call context deadline is normally much shorter.
	HTTPClientTimeout = 5 * time.Minute
)

// Default circuit breaker constants.
const (
	CBErrorThreshold  = 5
	CBTimeWindow      = 60 * time.Second
	CBHalfOpenTimeout = 30 * time.Second
)

// ValidAPIKey reports whether key looks like a usable credential: non-empty,
// at least 8 characters and free of whitespace.
func ValidAPIKey(key string) bool {
	if len(key) < 8 {
		return false
	}
	return !strings.ContainsAny(key, " \t\r\n")
}

// ValidBaseURL reports whether raw is an absolute http(s) URL.
func ValidBaseURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
