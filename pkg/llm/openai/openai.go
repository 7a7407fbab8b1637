// Package openai provides an OpenAI-compatible chat model provider.
//
// Example:
//
//	provider, err := openai.NewProvider("",
//	    openai.WithModel("gpt-4o-mini"),
//	    openai.WithBaseURL("http://localhost:8080/v1"))
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/entrhq/testpilot/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"
)

// Provider implements llm.Provider on the chat completions API.
type Provider struct {
	client      openai.Client
	httpClient  *http.Client
	temperature *float64
	apiKey      string
	baseURL     string
	model       string
	jsonMode    bool
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs such as
// Azure OpenAI, DeepSeek or a local server.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = &t
	}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithJSONMode toggles the json_object response format. It is on by default;
// some compatible servers reject it.
func WithJSONMode(enabled bool) ProviderOption {
	return func(p *Provider) {
		p.jsonMode = enabled
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// An empty apiKey falls back to OPENAI_API_KEY. Without WithBaseURL the
// OPENAI_BASE_URL environment variable is consulted.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set llm_config.api_key or the OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      DefaultModel,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
		jsonMode:   true,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = strings.TrimRight(envBaseURL, "/")
		}
	}

	// Retries belong to the intervention policy, not the transport.
	p.client = openai.NewClient(
		option.WithAPIKey(p.apiKey),
		option.WithBaseURL(p.baseURL+"/"),
		option.WithHTTPClient(p.httpClient),
		option.WithMaxRetries(0),
	)
	return p, nil
}

// Complete sends messages and returns the first choice.
func (p *Provider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: convertToOpenAIMessages(messages),
	}
	if p.temperature != nil {
		params.Temperature = openai.Float(*p.temperature)
	}
	if p.jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("API request failed with status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("API returned no choices")
	}

	return types.NewAssistantMessage(resp.Choices[0].Message.Content), nil
}

// Model returns the model name being used.
func (p *Provider) Model() string {
	return p.model
}

// BaseURL returns the base URL being used.
func (p *Provider) BaseURL() string {
	return p.baseURL
}

// convertToOpenAIMessages converts our Message format to OpenAI's ChatCompletionMessageParamUnion format.
func convertToOpenAIMessages(messages []*types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}

	return out
}
