package services

import (
	"context"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

type recordingGen struct {
	reqs    []llm.GenerationRequest
	timeout time.Duration
}

func (r *recordingGen) GenerateDetailed(_ context.Context, req llm.GenerationRequest, timeout time.Duration) (gateway.Outcome, error) {
	r.reqs = append(r.reqs, req)
	r.timeout = timeout
	return gateway.Outcome{
		Result: llm.GenerationResult{Text: "out", Model: req.Model},
		Source: gateway.SourceMiss,
	}, nil
}

func TestTranslator_SameLanguageShortCircuits(t *testing.T) {
	gen := &recordingGen{}
	tr := NewTranslator(gen, Config{})

	out, err := tr.Translate(context.Background(), TranslateRequest{
		Text: "Bonjour", SourceLang: "FR", TargetLang: " fr ", Provider: "ollama",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Text != "Bonjour" || out.Source != SourceIdentity {
		t.Errorf("unexpected outcome %+v", out)
	}
	if len(gen.reqs) != 0 {
		t.Error("same-language translation must not call the gateway")
	}
}

func TestTranslator_BuildsRequest(t *testing.T) {
	gen := &recordingGen{}
	tr := NewTranslator(gen, Config{Timeout: 5 * time.Second})

	_, err := tr.Translate(context.Background(), TranslateRequest{
		Text: "Bonjour", SourceLang: "fr", TargetLang: "en", Tone: "formal", Provider: "ollama",
	})
	if err != nil {
		t.Fatal(err)
	}

	req := gen.reqs[0]
	if req.Model != DefaultModels["ollama"] {
		t.Errorf("expected default model, got %q", req.Model)
	}
	if req.Params.Extra["source_lang"] != "fr" || req.Params.Extra["target_lang"] != "en" {
		t.Errorf("language pair must be part of the request: %v", req.Params.Extra)
	}
	if req.Params.Tone != "formal" || req.Params.System == "" {
		t.Errorf("unexpected params %+v", req.Params)
	}
	if gen.timeout != 5*time.Second {
		t.Errorf("timeout not forwarded, got %v", gen.timeout)
	}
}

func TestTranslator_LanguagePairsProduceDistinctKeys(t *testing.T) {
	gen := &recordingGen{}
	tr := NewTranslator(gen, Config{})
	ctx := context.Background()

	_, _ = tr.Translate(ctx, TranslateRequest{Text: "Hola", SourceLang: "es", TargetLang: "en", Provider: "openai"})
	_, _ = tr.Translate(ctx, TranslateRequest{Text: "Hola", SourceLang: "es", TargetLang: "de", Provider: "openai"})

	if gen.reqs[0].Key() == gen.reqs[1].Key() {
		t.Error("different target languages must not share a cache key")
	}
}

func TestTranslator_MissingTarget(t *testing.T) {
	_, err := NewTranslator(&recordingGen{}, Config{}).Translate(context.Background(), TranslateRequest{Text: "x", Provider: "ollama"})
	if k, _ := gateway.KindOf(err); k != gateway.InvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestTranslator_EmptyTextRejectedBeforeShortCircuit(t *testing.T) {
	gen := &recordingGen{}
	tr := NewTranslator(gen, Config{})

	for _, text := range []string{"", "  \n"} {
		_, err := tr.Translate(context.Background(), TranslateRequest{
			Text: text, SourceLang: "en", TargetLang: "en", Provider: "ollama",
		})
		if k, _ := gateway.KindOf(err); k != gateway.InvalidRequest {
			t.Fatalf("text %q: expected InvalidRequest, got %v", text, err)
		}
	}
	if len(gen.reqs) != 0 {
		t.Error("empty text must not reach the gateway")
	}
}

func TestChat_TruncatesHistory(t *testing.T) {
	gen := &recordingGen{}
	chat := NewChat(gen, Config{MaxHistory: 2})

	history := []llm.Turn{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}
	if _, err := chat.Reply(context.Background(), ChatRequest{Message: "five", History: history, Provider: "mistral"}); err != nil {
		t.Fatal(err)
	}

	got := gen.reqs[0].Context
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "four" {
		t.Errorf("expected the last two turns, got %+v", got)
	}
}

func TestModelOverrides(t *testing.T) {
	gen := &recordingGen{}
	s := NewSummarizer(gen, Config{Models: map[string]string{"openai": "gpt-4.1"}})

	if _, err := s.Summarize(context.Background(), SummarizeRequest{Text: "long text", Provider: "openai"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Summarize(context.Background(), SummarizeRequest{Text: "long text", Provider: "openai", Model: "o3"}); err != nil {
		t.Fatal(err)
	}

	if gen.reqs[0].Model != "gpt-4.1" || gen.reqs[1].Model != "o3" {
		t.Errorf("unexpected models %q, %q", gen.reqs[0].Model, gen.reqs[1].Model)
	}
	if gen.reqs[0].Params.Extra["max_words"] != "120" {
		t.Errorf("expected default word budget, got %v", gen.reqs[0].Params.Extra)
	}
}

func TestSummarizer_NegativeWords(t *testing.T) {
	_, err := NewSummarizer(&recordingGen{}, Config{}).Summarize(context.Background(), SummarizeRequest{Text: "x", MaxWords: -1})
	if k, _ := gateway.KindOf(err); k != gateway.InvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestImprover_TemplateInKey(t *testing.T) {
	gen := &recordingGen{}
	if _, err := NewImprover(gen, Config{}).Improve(context.Background(), ImproveRequest{Prompt: "write code", Provider: "anthropic"}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSummarizer(gen, Config{}).Summarize(context.Background(), SummarizeRequest{Text: "write code", Provider: "anthropic"}); err != nil {
		t.Fatal(err)
	}
	if gen.reqs[0].Key() == gen.reqs[1].Key() {
		t.Error("templates over the same text must not collide")
	}
	if gen.reqs[0].Params.Extra["template"] != "improve" {
		t.Errorf("unexpected extra %v", gen.reqs[0].Params.Extra)
	}
}
