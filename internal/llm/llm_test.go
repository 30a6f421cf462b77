package llm

import (
	"math"
	"testing"
	"time"
)

func baseRequest() GenerationRequest {
	return GenerationRequest{
		Text:     "Bonjour",
		Provider: ProviderOllama,
		Model:    "llama3.2",
		Params: Params{
			Extra: map[string]string{"source_lang": "fr", "target_lang": "en"},
		},
	}
}

func TestKey_Deterministic(t *testing.T) {
	a, b := baseRequest(), baseRequest()
	if a.Key() != b.Key() {
		t.Fatal("equal requests must produce equal keys")
	}
}

func TestKey_TrimsText(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Text = "  Bonjour\n"
	if a.Key() != b.Key() {
		t.Fatal("surrounding whitespace must not change the key")
	}
}

func TestKey_PreservesCase(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Text = "bonjour"
	if a.Key() == b.Key() {
		t.Fatal("text case must be preserved in the key")
	}
}

func TestKey_Discrimination(t *testing.T) {
	base := baseRequest()

	cases := map[string]func(r *GenerationRequest){
		"provider": func(r *GenerationRequest) { r.Provider = ProviderLMStudio },
		"model":    func(r *GenerationRequest) { r.Model = "llama3.1" },
		"text":     func(r *GenerationRequest) { r.Text = "Salut" },
		"context": func(r *GenerationRequest) {
			r.Context = []Turn{{Role: "user", Content: "hi"}}
		},
		"temperature": func(r *GenerationRequest) { r.Params.Temperature = 0.7 },
		"max_tokens":  func(r *GenerationRequest) { r.Params.MaxTokens = 64 },
		"tone":        func(r *GenerationRequest) { r.Params.Tone = "formal" },
		"system":      func(r *GenerationRequest) { r.Params.System = "be brief" },
		"extra": func(r *GenerationRequest) {
			r.Params.Extra = map[string]string{"source_lang": "fr", "target_lang": "de"}
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			other := baseRequest()
			mutate(&other)
			if other.Key() == base.Key() {
				t.Errorf("requests differing only in %s must not share a key", name)
			}
		})
	}
}

func TestKey_ExtraOrderIndependent(t *testing.T) {
	a := baseRequest()
	b := baseRequest()
	b.Params.Extra = map[string]string{"target_lang": "en", "source_lang": "fr"}
	if a.Key() != b.Key() {
		t.Fatal("map insertion order must not affect the key")
	}
}

func TestKey_EmptyEqualsNil(t *testing.T) {
	a := GenerationRequest{Text: "hi", Provider: ProviderOllama, Model: "llama3.2"}
	b := a
	b.Context = []Turn{}
	b.Params.Extra = map[string]string{}

	if a.Key() != b.Key() {
		t.Fatal("empty and nil context/extra must share a key")
	}
}

func TestKey_NonFiniteTemperatureStaysDistinct(t *testing.T) {
	a := GenerationRequest{
		Text: "Bonjour", Provider: ProviderOllama, Model: "llama3.2",
		Params: Params{Temperature: math.NaN()},
	}
	b := GenerationRequest{
		Text: "Goodbye", Provider: ProviderOpenAI, Model: "gpt-4o",
		Params: Params{Temperature: math.NaN()},
	}
	c := a
	c.Params.Temperature = math.Inf(1)

	if a.Key() == b.Key() {
		t.Fatal("requests with different provider, model and text must not share a key")
	}
	if a.Key() == c.Key() {
		t.Fatal("NaN and +Inf temperatures must not share a key")
	}
}

func TestKey_FieldBoundaries(t *testing.T) {
	a := GenerationRequest{Text: "b", Provider: ProviderOllama, Model: "a"}
	b := GenerationRequest{Text: "", Provider: ProviderOllama, Model: "ab"}
	if a.Key() == b.Key() {
		t.Fatal("moving bytes between fields must change the key")
	}
}

func TestIsKnownProvider(t *testing.T) {
	for _, p := range KnownProviders {
		if !IsKnownProvider(p) {
			t.Errorf("%s should be known", p)
		}
	}
	if IsKnownProvider("bedrock") {
		t.Error("bedrock is not a supported provider")
	}
}

func TestProviderHealth_Status(t *testing.T) {
	h := UnknownHealth(ProviderOllama)
	if h.Known() || h.Status() != "unknown" {
		t.Fatalf("expected unknown, got %s", h.Status())
	}

	h.LastCheckedAt = time.Now()
	if h.Status() != "down" {
		t.Fatalf("expected down, got %s", h.Status())
	}

	h.Reachable = true
	if h.Status() != "ok" {
		t.Fatalf("expected ok, got %s", h.Status())
	}
}

func TestCachedResult_Age(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := CachedResult{StoredAt: now.Add(-time.Minute)}
	if c.Age(now) != time.Minute {
		t.Fatalf("expected 1m, got %s", c.Age(now))
	}
}
