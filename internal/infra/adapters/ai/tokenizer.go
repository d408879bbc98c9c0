package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"conversation-analysis/internal/domain/ports/adapter"
)

const fallbackEncoding = "cl100k_base"

var _ adapter.Tokenizer = (*TiktokenTokenizer)(nil)

// TiktokenTokenizer approximates token counts with OpenAI BPE encodings.
// Non-OpenAI models use cl100k_base, which is close enough for budgeting.
type TiktokenTokenizer struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

func NewTiktokenTokenizer() *TiktokenTokenizer {
	return &TiktokenTokenizer{cache: map[string]*tiktoken.Tiktoken{}}
}

func (t *TiktokenTokenizer) encoding(model string) (*tiktoken.Tiktoken, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.cache[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	t.cache[model] = enc
	return enc, nil
}

// Truncate returns text cut to at most maxTokens tokens and the resulting count.
func (t *TiktokenTokenizer) Truncate(model, text string, maxTokens int) (string, int, error) {
	enc, err := t.encoding(model)
	if err != nil {
		return "", 0, err
	}
	tokens := enc.Encode(text, nil, nil)
	if maxTokens <= 0 || len(tokens) <= maxTokens {
		return text, len(tokens), nil
	}
	return enc.Decode(tokens[:maxTokens]), maxTokens, nil
}
