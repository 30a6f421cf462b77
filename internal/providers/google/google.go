// Package google implements providers.Transport for the Gemini API using the
// official GenAI SDK.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "google"
)

var errNoClient = errors.New("google: no API key configured")

// Transport implements providers.Transport for Google Gemini.
type Transport struct {
	apiKey  string
	baseURL string
	client  *genai.Client
}

// Option configures a Transport.
type Option func(*Transport)

// WithBaseURL overrides the API base URL (useful for testing). A trailing
// version segment such as /v1beta is split off into the SDK's APIVersion.
func WithBaseURL(u string) Option {
	return func(t *Transport) {
		if u != "" {
			t.baseURL = u
		}
	}
}

// New creates a Google transport. Without a usable key the transport is
// returned unconfigured and no SDK client is built.
func New(ctx context.Context, apiKey string, opts ...Option) (*Transport, error) {
	if ctx == nil {
		panic("google: context must not be nil")
	}
	t := &Transport{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
	}
	for _, o := range opts {
		o(t)
	}
	if !providers.ValidAPIKey(t.apiKey) {
		return t, nil
	}

	base, ver := splitBaseURLAndVersion(t.baseURL)
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      t.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: providers.HTTPClientTimeout},
		HTTPOptions: genai.HTTPOptions{BaseURL: base, APIVersion: ver},
	})
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	t.client = client
	return t, nil
}

func (t *Transport) Name() string { return providerName }

func (t *Transport) Configured() bool {
	return t.client != nil && providers.ValidBaseURL(t.baseURL)
}

func (t *Transport) CheckHealth(ctx context.Context) error {
	if t.client == nil {
		return errNoClient
	}
	if _, err := t.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return fmt.Errorf("google: health check: %w", toProviderError(err))
	}
	return nil
}

func (t *Transport) ListModels(ctx context.Context) ([]string, error) {
	if t.client == nil {
		return nil, errNoClient
	}
	page, err := t.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 100})
	if err != nil {
		return nil, toProviderError(err)
	}
	models := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		if m == nil || m.Name == "" {
			continue
		}
		models = append(models, strings.TrimPrefix(m.Name, "models/"))
	}
	return models, nil
}

func (t *Transport) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	if t.client == nil {
		return nil, errNoClient
	}

	contents, cfg := buildContentsAndConfig(req)
	resp, err := t.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, toProviderError(err)
	}

	out := &providers.GenerateResponse{Model: req.Model}
	if resp == nil {
		return out, nil
	}
	out.Content = resp.Text()
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.Usage = providers.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}

// buildContentsAndConfig maps system turns to SystemInstruction and
// assistant turns to the "model" role.
func buildContentsAndConfig(req *providers.GenerateRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if systemPrompt == "" && req.Temperature <= 0 && req.MaxTokens <= 0 {
		return contents, nil
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr[float32](float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func splitBaseURLAndVersion(raw string) (baseURL string, apiVersion string) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, ""
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if last := parts[len(parts)-1]; looksLikeAPIVersion(last) {
		apiVersion = last
		parts = parts[:len(parts)-1]
	}

	u.Path = "/" + strings.Join(parts, "/")
	baseURL = strings.TrimRight(u.String(), "/") + "/"
	return baseURL, apiVersion
}

func looksLikeAPIVersion(s string) bool {
	return len(s) >= 2 && s[0] == 'v' && s[1] >= '0' && s[1] <= '9'
}

// ProviderError is a structured error returned by the Gemini API.
type ProviderError struct {
	StatusCode int
	Message    string
	Status     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("google: %s (status=%d, %s)", e.Message, e.StatusCode, e.Status)
}

// HTTPStatus implements providers.StatusCoder.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

func toProviderError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			StatusCode: apiErr.Code,
			Message:    apiErr.Message,
			Status:     apiErr.Status,
		}
	}
	return err
}
