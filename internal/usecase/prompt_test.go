//go:build !integration

package usecase

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
)

// wordTokenizer treats every space separated word as one token.
type wordTokenizer struct{ err error }

func (w wordTokenizer) Truncate(model, text string, maxTokens int) (string, int, error) {
	if w.err != nil {
		return "", 0, w.err
	}
	words := strings.Fields(text)
	if len(words) > maxTokens {
		words = words[:maxTokens]
	}
	return strings.Join(words, " "), len(words), nil
}

func TestPromptBuilder_Substitutes(t *testing.T) {
	logger := zerolog.Nop()
	b := NewPromptBuilder(map[string]PromptTemplate{
		"Sentiment": {System: "model={{model}}", User: "{{fileName}}: {{content}}"},
	}, nil, 0, &logger)

	p, err := b.Build("sentiment", "gpt-4o", "chat.txt", "hello there")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.System != "model=gpt-4o" || p.User != "chat.txt: hello there" {
		t.Fatalf("unexpected prompt %+v", p)
	}
}

func TestPromptBuilder_DefaultTemplate(t *testing.T) {
	logger := zerolog.Nop()
	b := NewPromptBuilder(nil, nil, 0, &logger)

	p, err := b.Build("", "m", "a.txt", "content")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, "a.txt") || !strings.Contains(p.User, "content") {
		t.Fatalf("default template not substituted: %q", p.User)
	}
	if !b.HasTemplate("DEFAULT") {
		t.Fatalf("template lookup must be case-insensitive")
	}
}

func TestPromptBuilder_UnknownTemplate(t *testing.T) {
	logger := zerolog.Nop()
	b := NewPromptBuilder(nil, nil, 0, &logger)
	if _, err := b.Build("nope", "m", "f", "c"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestPromptBuilder_Truncates(t *testing.T) {
	logger := zerolog.Nop()
	b := NewPromptBuilder(map[string]PromptTemplate{"t": {User: "{{content}}"}}, wordTokenizer{}, 3, &logger)

	p, err := b.Build("t", "m", "f", "one two three four five")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.User != "one two three" || !p.Truncated || p.InputTokens != 3 {
		t.Fatalf("unexpected truncation %+v", p)
	}
}

func TestPromptBuilder_TokenizerErrorKeepsContent(t *testing.T) {
	logger := zerolog.Nop()
	b := NewPromptBuilder(map[string]PromptTemplate{"t": {User: "{{content}}"}}, wordTokenizer{err: errors.New("no encoding")}, 3, &logger)

	p, err := b.Build("t", "m", "f", "one two three four")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.User != "one two three four" || p.Truncated {
		t.Fatalf("content must be untouched on tokenizer error, got %+v", p)
	}
}
