// Package openai implements providers.Transport for the OpenAI chat
// completions API on top of the official openai-go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/nulpointcorp/llm-dashboard/internal/providers"
	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

type Transport struct {
	apiKey  string
	baseURL string
	client  openaiSDK.Client
}

type Option func(*Transport)

func WithBaseURL(u string) Option {
	return func(t *Transport) {
		if u != "" {
			t.baseURL = u
		}
	}
}

func New(apiKey string, opts ...Option) *Transport {
	t := &Transport{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
	}
	for _, o := range opts {
		o(t)
	}

	// The gateway owns retry policy; the SDK must make exactly one attempt.
	t.client = openaiSDK.NewClient(
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
	if _, err := t.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: health check: %w", toProviderError(err))
	}
	return nil
}

func (t *Transport) ListModels(ctx context.Context) ([]string, error) {
	page, err := t.client.Models.List(ctx)
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
	resp, err := t.client.Chat.Completions.New(ctx, buildParams(req))
	if err != nil {
		return nil, toProviderError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &providers.GenerateResponse{
		Model:   resp.Model,
		Content: content,
		Usage: providers.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func buildParams(req *providers.GenerateRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	return params
}

type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("openai: %s (status=%d)", e.Message, e.StatusCode)
}

func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apierr *openaiSDK.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			StatusCode: apierr.StatusCode,
			Message:    apierr.Error(),
		}
	}
	return err
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
