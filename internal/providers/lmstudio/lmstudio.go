// Package lmstudio implements providers.Transport for a local LM Studio
// server through its OpenAI-compatible endpoints (/v1/models,
// /v1/chat/completions). An API key is optional.
package lmstudio

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
	DefaultBaseURL = "http://localhost:1234/v1"
	providerName   = "lmstudio"

	// placeholderKey is sent when no key is configured; LM Studio ignores it
	// but the SDK always emits an Authorization header.
	placeholderKey = "lm-studio"
)

// Transport is an LM Studio backend.
type Transport struct {
	baseURL string
	client  openaiSDK.Client
}

// New creates a transport for the server at baseURL (DefaultBaseURL if
// empty). apiKey may be empty.
func New(baseURL, apiKey string) *Transport {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if apiKey == "" {
		apiKey = placeholderKey
	}
	t := &Transport{baseURL: strings.TrimRight(baseURL, "/")}

	t.client = openaiSDK.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(t.baseURL),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: providers.HTTPClientTimeout}),
	)
	return t
}

func (t *Transport) Name() string { return providerName }

func (t *Transport) Configured() bool { return providers.ValidBaseURL(t.baseURL) }

func (t *Transport) CheckHealth(ctx context.Context) error {
	if _, err := t.client.Models.List(ctx); err != nil {
		return fmt.Errorf("lmstudio: health check: %w", toProviderError(err))
	}
	return nil
}

// ListModels returns the models currently loaded or downloadable in LM Studio.
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
	// LM Studio still reads the legacy max_tokens field.
	if req.MaxTokens > 0 {
		params.MaxTokens = openaiSDK.Int(int64(req.MaxTokens))
	}

	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}

	return &providers.GenerateResponse{
		Model:   model,
		Content: content,
		Usage: providers.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// ProviderError is a structured error returned by the LM Studio server.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("lmstudio: %s (status=%d)", e.Message, e.StatusCode)
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
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}
