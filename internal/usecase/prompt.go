// File: internal/usecase/prompt.go
package usecase

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/ports/adapter"
)

const DefaultTemplateID = "default"

// PromptTemplate holds the system and user prompt text of one analysis type.
// Placeholders: {{fileName}}, {{content}}, {{model}}.
type PromptTemplate struct {
	System string
	User   string
}

var defaultTemplate = PromptTemplate{
	System: "You analyze chat conversation exports. Reply with a single JSON object only, " +
		"with the fields detectedLanguage (string), overallSummary (string) and insights " +
		"(array of objects with type, title and description).",
	User: "Analyze the conversation in the file {{fileName}}.\n\n{{content}}",
}

// Prompt is a fully substituted prompt pair.
type Prompt struct {
	System string
	User   string
	// InputTokens is the token count of the (possibly truncated) content, 0 when unknown.
	InputTokens int
	Truncated   bool
}

// PromptBuilder resolves template ids and fills in job fields.
type PromptBuilder struct {
	templates      map[string]PromptTemplate
	tokenizer      adapter.Tokenizer
	maxInputTokens int
	log            *zerolog.Logger
}

// NewPromptBuilder merges templates over the built-in default. tokenizer may be
// nil, and maxInputTokens <= 0 disables truncation.
func NewPromptBuilder(templates map[string]PromptTemplate, tokenizer adapter.Tokenizer, maxInputTokens int, logger *zerolog.Logger) *PromptBuilder {
	all := map[string]PromptTemplate{DefaultTemplateID: defaultTemplate}
	for id, t := range templates {
		all[strings.ToLower(id)] = t
	}
	l := logger.With().Str("component", "prompt").Logger()
	return &PromptBuilder{templates: all, tokenizer: tokenizer, maxInputTokens: maxInputTokens, log: &l}
}

func (b *PromptBuilder) HasTemplate(id string) bool {
	_, ok := b.templates[templateKey(id)]
	return ok
}

func (b *PromptBuilder) Build(templateID, modelID, fileName, content string) (Prompt, error) {
	t, ok := b.templates[templateKey(templateID)]
	if !ok {
		return Prompt{}, fmt.Errorf("%w: unknown template %q", domain.ErrInvalidArgument, templateID)
	}

	var p Prompt
	if b.tokenizer != nil && b.maxInputTokens > 0 {
		cut, n, err := b.tokenizer.Truncate(modelID, content, b.maxInputTokens)
		if err != nil {
			b.log.Warn().Err(err).Str("model", modelID).Msg("token budgeting skipped")
		} else {
			p.Truncated = len(cut) < len(content)
			p.InputTokens = n
			content = cut
		}
	}

	r := strings.NewReplacer(
		"{{fileName}}", fileName,
		"{{content}}", content,
		"{{model}}", modelID,
	)
	p.System = r.Replace(t.System)
	p.User = r.Replace(t.User)
	return p, nil
}

func templateKey(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return DefaultTemplateID
	}
	return id
}
