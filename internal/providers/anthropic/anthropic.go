package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	providerName     = "anthropic"
	defaultMaxTokens = 4096
	modelsPageLimit  = 100
)

// Transport implements providers.Transport for Anthropic (official SDK).
type Transport struct {
	apiKey  string
	baseURL string
	client  anthropic.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(t *Transport) {
		if url != "" {
			t.baseURL = url
		}
	}
}

// New creates a new Anthropic transport.
func New(apiKey string, opts ...Option) *Transport {
	t := &Transport{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
	}
	for _, o := range opts {
		o(t)
	}

	t.client = anthropic.NewClient(
		option.WithAPIKey(t.apiKey),
		option.WithBaseURL(t.baseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: providers.HTTPClientTimeout}),
	)
	return t
}

func (t *Transport) Name() string { return providerName }

func (t *Transport) Configured() bool {
	return providers.ValidAPIKey(t.apiKey) && providers.ValidBaseURL(t.baseURL)
}

func (t *Transport) CheckHealth(ctx context.Context) error {
	// Simple auth/connectivity check: GET /v1/models
	_, err := t.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", toProviderError(err))
	}
	return nil
}

func (t *Transport) ListModels(ctx context.Context) ([]string, error) {
	page, err := t.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(modelsPageLimit),
	})
	if err != nil {
		return nil, toProviderError(err)
	}
	models := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func (t *Transport) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	msg, err := t.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, toProviderError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		if v, ok := b.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(v.Text)
		}
	}

	return &providers.GenerateResponse{
		Model:   string(msg.Model),
		Content: sb.String(),
		Usage: providers.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// buildParams lifts system turns into the top-level system prompt, which is
// where the Messages API expects them.
func buildParams(req *providers.GenerateRequest) anthropic.MessageNewParams {
	var systemPrompt string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	anthRole := anthropic.MessageParamRoleUser
	if strings.EqualFold(role, "assistant") {
		anthRole = anthropic.MessageParamRoleAssistant
	}

	return anthropic.MessageParam{
		Role: anthRole,
		Content: []anthropic.ContentBlockParamUnion{
			{OfText: &anthropic.TextBlockParam{Text: content}},
		},
	}
}

// ProviderError is a structured error returned by the Anthropic API.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("anthropic: %s (status=%d)", e.Message, e.StatusCode)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
		}
	}
	return err
}
