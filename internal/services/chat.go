package services

import (
	"context"

	"github.com/nulpointcorp/llm-dashboard/internal/gateway"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
)

const defaultMaxHistory = 10

type ChatRequest struct {
	Message  string     `json:"message"`
	History  []llm.Turn `json:"history,omitempty"`
	System   string     `json:"system,omitempty"`
	Provider string     `json:"provider"`
	Model    string     `json:"model,omitempty"`
}

type Chat struct {
	base
	maxHistory int
}

func NewChat(gen Generator, cfg Config) *Chat {
	n := cfg.MaxHistory
	if n <= 0 {
		n = defaultMaxHistory
	}
	return &Chat{base: newBase(gen, cfg), maxHistory: n}
}

// Reply sends the message with the most recent history turns. Turns with a
// role other than user or assistant are dropped.
func (c *Chat) Reply(ctx context.Context, in ChatRequest) (gateway.Outcome, error) {
	return c.generate(ctx, llm.GenerationRequest{
		Text:     in.Message,
		Context:  c.truncate(in.History),
		Provider: in.Provider,
		Model:    in.Model,
		Params: llm.Params{
			Temperature: 0.7,
			System:      in.System,
		},
	})
}

func (c *Chat) truncate(history []llm.Turn) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history))
	for _, t := range history {
		if (t.Role == "user" || t.Role == "assistant") && t.Content != "" {
			turns = append(turns, t)
		}
	}
	if len(turns) > c.maxHistory {
		turns = turns[len(turns)-c.maxHistory:]
	}
	return turns
}
