package services

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

const defaultSummaryWords = 120

type SummarizeRequest struct {
	Text     string `json:"text"`
	MaxWords int    `json:"max_words,omitempty"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

type Summarizer struct {
	base
}

func NewSummarizer(gen Generator, cfg Config) *Summarizer {
	return &Summarizer{base: newBase(gen, cfg)}
}

func (s *Summarizer) Summarize(ctx context.Context, in SummarizeRequest) (gateway.Outcome, error) {
	words := in.MaxWords
	if words < 0 {
		return gateway.Outcome{}, invalid(in.Provider, "max_words must not be negative")
	}
	if words == 0 {
		words = defaultSummaryWords
	}

	return s.generate(ctx, llm.GenerationRequest{
		Text:     in.Text,
		Provider: in.Provider,
		Model:    in.Model,
		Params: llm.Params{
			Temperature: 0.2,
			System: fmt.Sprintf(
				"Summarize the user's text in at most %d words, in the language of the text. Reply with the summary only.",
				words,
			),
			Extra: map[string]string{"template": "summarize", "max_words": strconv.Itoa(words)},
		},
	})
}
