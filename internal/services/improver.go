package services

import (
	"context"
	"strings"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

const improveSystemPrompt = "You rewrite prompts for large language models. " +
	"Make the user's prompt clear and specific while keeping its intent and language. " +
	"Reply with the improved prompt only."

type ImproveRequest struct {
	Prompt   string `json:"prompt"`
	Goal     string `json:"goal,omitempty"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

type Improver struct {
	base
}

func NewImprover(gen Generator, cfg Config) *Improver {
	return &Improver{base: newBase(gen, cfg)}
}

func (i *Improver) Improve(ctx context.Context, in ImproveRequest) (gateway.Outcome, error) {
	system := improveSystemPrompt
	goal := strings.TrimSpace(in.Goal)
	if goal != "" {
		system += " The prompt will be used to: " + goal + "."
	}

	return i.generate(ctx, llm.GenerationRequest{
		Text:     in.Prompt,
		Provider: in.Provider,
		Model:    in.Model,
		Params: llm.Params{
			Temperature: 0.4,
			System:      system,
			Extra:       map[string]string{"template": "improve", "goal": goal},
		},
	})
}
