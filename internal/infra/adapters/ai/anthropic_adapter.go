package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/adapter"
)

const anthropicMaxTokens = 4096

var _ adapter.ProviderClient = (*AnthropicAdapter)(nil)

// AnthropicAdapter calls the Messages API through the official SDK.
type AnthropicAdapter struct {
	base string // empty means the SDK default
	hc   *http.Client
}

func NewAnthropicAdapter(base string) *AnthropicAdapter {
	return &AnthropicAdapter{base: base, hc: &http.Client{Timeout: 3 * time.Minute}}
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	if req.Credential == "" {
		return adapter.Completion{}, fmt.Errorf("anthropic: empty credential: %w", domain.ErrProviderAuth)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(req.Credential),
		option.WithHTTPClient(a.hc),
		option.WithMaxRetries(0),
	}
	if a.base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(a.base, "/")+"/"))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			// 529 is Anthropic's "overloaded"
			return adapter.Completion{}, classifyStatus("anthropic", apiErr.StatusCode, truncateDetail(apiErr.Error()))
		}
		return adapter.Completion{}, classifyTransport("anthropic", err)
	}

	var sb strings.Builder
	for _, c := range msg.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return adapter.Completion{}, fmt.Errorf("anthropic: no text content: %w", domain.ErrMalformedResponse)
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return adapter.Completion{
		Text: sb.String(),
		Usage: adapter.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
		},
	}, nil
}
