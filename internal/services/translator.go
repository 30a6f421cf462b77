package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

type TranslateRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	Tone       string `json:"tone,omitempty"`
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
}

type Translator struct {
	base
}

func NewTranslator(gen Generator, cfg Config) *Translator {
	return &Translator{base: newBase(gen, cfg)}
}

// Translate returns the text unchanged, without a gateway call, when source
// and target language are the same. The tone travels in Params.Tone, which
// the gateway appends to the system prompt.
func (t *Translator) Translate(ctx context.Context, in TranslateRequest) (gateway.Outcome, error) {
	if strings.TrimSpace(in.Text) == "" {
		return gateway.Outcome{}, invalid(in.Provider, "text is empty")
	}
	src := normalizeLang(in.SourceLang)
	dst := normalizeLang(in.TargetLang)
	if dst == "" {
		return gateway.Outcome{}, invalid(in.Provider, "target_lang is required")
	}

	if src == dst {
		return gateway.Outcome{
			Result: llm.GenerationResult{Text: in.Text, Model: t.Model(in.Provider, in.Model)},
			Source: SourceIdentity,
		}, nil
	}

	from := src
	if from == "" {
		from = "the detected source language"
	}
	system := fmt.Sprintf(
		"You are a professional translator. Translate the user's text from %s to %s. Reply with the translation only.",
		from, dst,
	)

	return t.generate(ctx, llm.GenerationRequest{
		Text:     in.Text,
		Provider: in.Provider,
		Model:    in.Model,
		Params: llm.Params{
			Temperature: 0.3,
			Tone:        strings.TrimSpace(in.Tone),
			System:      system,
			Extra: map[string]string{
				"source_lang": src,
				"target_lang": dst,
			},
		},
	})
}

func normalizeLang(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
