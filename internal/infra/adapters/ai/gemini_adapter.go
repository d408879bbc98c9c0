// File: internal/infra/adapters/ai/gemini_adapter.go
package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/adapter"
)

var _ adapter.ProviderClient = (*GeminiAdapter)(nil)

// GeminiAdapter uses the official genai SDK against the Gemini API backend.
type GeminiAdapter struct {
	baseURL string
}

func NewGeminiAdapter(baseURL string) *GeminiAdapter {
	return &GeminiAdapter{baseURL: baseURL}
}

func (g *GeminiAdapter) Name() string { return "google" }

func (g *GeminiAdapter) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.Completion, error) {
	if req.Credential == "" {
		return adapter.Completion{}, fmt.Errorf("gemini: empty credential: %w", domain.ErrProviderAuth)
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.Credential,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: g.baseURL,
		},
	})
	if err != nil {
		return adapter.Completion{}, classifyTransport("gemini", err)
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	resp, err := c.Models.GenerateContent(ctx, req.Model, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		return adapter.Completion{}, classifyGenAI(err)
	}

	text := resp.Text()
	if text == "" {
		return adapter.Completion{}, fmt.Errorf("gemini: empty candidate: %w", domain.ErrMalformedResponse)
	}
	u := adapter.Usage{}
	if resp.UsageMetadata != nil {
		u.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		u.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		u.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return adapter.Completion{Text: text, Usage: u}, nil
}

func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("gemini", apiErr.Code, truncateDetail(apiErr.Message))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus("gemini", apiErrPtr.Code, truncateDetail(apiErrPtr.Message))
	}
	return classifyTransport("gemini", err)
}
