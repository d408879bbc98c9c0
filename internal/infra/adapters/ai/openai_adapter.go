package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ProviderClient = (*OpenAIAdapter)(nil)

// OpenAIAdapter calls Chat Completions through the official SDK. The client is
// built per request because every job carries its own credential.
// Gateways (OpenRouter, DeepSeek, Metis, a local vLLM ...) are named
// instances pointed at their own base URL.
type OpenAIAdapter struct {
	name    string
	base    string // empty means the SDK default
	gateway bool
	hc      *http.Client
}

func NewOpenAIAdapter(base string) *OpenAIAdapter {
	return &OpenAIAdapter{name: "openai", base: base, hc: &http.Client{Timeout: 3 * time.Minute}}
}

// NewGatewayAdapter registers an OpenAI-compatible gateway under its own name,
// e.g. ("openrouter", "https://openrouter.ai/api/v1").
func NewGatewayAdapter(name, base string) (*OpenAIAdapter, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	base = strings.TrimSpace(base)
	if name == "" || base == "" {
		return nil, fmt.Errorf("gateway needs a name and base url: %w", domain.ErrInvalidArgument)
	}
	return &OpenAIAdapter{
		name:    name,
		base:    base,
		gateway: true,
		hc:      &http.Client{Timeout: 3 * time.Minute},
	}, nil
}

func (o *OpenAIAdapter) Name() string { return o.name }

func (o *OpenAIAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	if req.Credential == "" {
		return adapter.Completion{}, fmt.Errorf("%s: empty credential: %w", o.name, domain.ErrProviderAuth)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(req.Credential),
		option.WithHTTPClient(o.hc),
		// retries belong to the job scheduler
		option.WithMaxRetries(0),
	}
	if o.base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(o.base, "/")+"/"))
	}
	client := openai.NewClient(opts...)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
	}
	if o.gateway {
		// gateways vary in json mode support and still expect max_tokens
		if req.MaxOutputTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
		}
	} else {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
		if req.MaxOutputTokens > 0 {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
		}
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return adapter.Completion{}, classifyStatus(o.name, apiErr.StatusCode, truncateDetail(apiErr.Message))
		}
		return adapter.Completion{}, classifyTransport(o.name, err)
	}

	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			return adapter.Completion{
				Text: c.Message.Content,
				Usage: adapter.Usage{
					PromptTokens:     int(resp.Usage.PromptTokens),
					CompletionTokens: int(resp.Usage.CompletionTokens),
					TotalTokens:      int(resp.Usage.TotalTokens),
				},
			}, nil
		}
	}
	return adapter.Completion{}, fmt.Errorf("%s: no choice content: %w", o.name, domain.ErrMalformedResponse)
}
