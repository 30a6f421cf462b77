// Package llm defines the provider-neutral value types shared by the gateway,
// the result cache, the health monitor and the provider transports.
//
// Nothing in this package performs I/O. Vendor-specific payloads are decoded
// into these types at the transport boundary so the gateway core never sees
// loosely typed data.
package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Supported provider names.
const (
	ProviderOllama    = "ollama"
	ProviderLMStudio  = "lmstudio"
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderMistral   = "mistral"
	ProviderOpenAI    = "openai"
)

// KnownProviders lists every backend the gateway recognises, local runners
// first.
var KnownProviders = []string{
	ProviderOllama,
	ProviderLMStudio,
	ProviderGoogle,
	ProviderAnthropic,
	ProviderMistral,
	ProviderOpenAI,
}

// IsKnownProvider reports whether name is one of KnownProviders.
func IsKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

type (
	// Turn is one prior message of a conversation.
	Turn struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	// Params carries the generation knobs. Tone is appended to the system
	// prompt sent upstream. Extra holds caller-specific discriminators
	// (language pair, template name) that take part in request equivalence
	// only; they are never sent to the provider, so callers must also express
	// them in System or Text.
	Params struct {
		Temperature float64           `json:"temperature,omitempty"`
		MaxTokens   int               `json:"max_tokens,omitempty"`
		Tone        string            `json:"tone,omitempty"`
		System      string            `json:"system,omitempty"`
		Extra       map[string]string `json:"extra,omitempty"`
	}

	// GenerationRequest is a single synchronous generation call.
	GenerationRequest struct {
		Text     string `json:"text"`
		Context  []Turn `json:"context,omitempty"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Params   Params `json:"params"`
	}

	// GenerationResult is the normalized outcome of a generation call.
	GenerationResult struct {
		Text       string `json:"text"`
		TokenCount int    `json:"token_count"`
		Model      string `json:"model"`
	}

	// CachedResult is a GenerationResult together with its insertion time.
	CachedResult struct {
		Value    GenerationResult `json:"value"`
		StoredAt time.Time        `json:"stored_at"`
	}
)

// Normalize returns a copy of r with its text trimmed. Case is preserved.
// Empty context and extra collapse to nil so both spellings share a key.
func (r GenerationRequest) Normalize() GenerationRequest {
	r.Text = strings.TrimSpace(r.Text)
	if len(r.Context) == 0 {
		r.Context = nil
	}
	if len(r.Params.Extra) == 0 {
		r.Params.Extra = nil
	}
	return r
}

// Key derives the deterministic cache key for r. Two requests that are equal
// after normalization always produce the same key. Every field is written
// length-prefixed, so no two distinct requests share an encoding; Extra is
// written in sorted key order.
func (r GenerationRequest) Key() string {
	n := r.Normalize()

	h := sha256.New()
	var buf []byte
	field := func(s string) {
		buf = strconv.AppendInt(buf[:0], int64(len(s)), 10)
		buf = append(buf, ':')
		h.Write(buf)
		io.WriteString(h, s)
	}

	field(n.Provider)
	field(n.Model)
	field(n.Text)
	field(strconv.Itoa(len(n.Context)))
	for _, t := range n.Context {
		field(t.Role)
		field(t.Content)
	}
	field(strconv.FormatFloat(n.Params.Temperature, 'g', -1, 64))
	field(strconv.Itoa(n.Params.MaxTokens))
	field(n.Params.Tone)
	field(n.Params.System)

	keys := make([]string, 0, len(n.Params.Extra))
	for k := range n.Params.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	field(strconv.Itoa(len(keys)))
	for _, k := range keys {
		field(k)
		field(n.Params.Extra[k])
	}

	return "gen:" + hex.EncodeToString(h.Sum(nil))
}

// Age returns how long ago the entry was stored, relative to now.
func (c CachedResult) Age(now time.Time) time.Duration {
	return now.Sub(c.StoredAt)
}
