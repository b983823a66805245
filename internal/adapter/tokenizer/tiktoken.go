// Package tokenizer counts tokens the way the completions endpoint does.
package tokenizer

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"streamchat/internal/domain"
)

// Counter counts tokens with the BPE encoding of a single model.
// It is safe for concurrent use.
type Counter struct {
	model string
	enc   *tiktoken.Tiktoken
}

var _ domain.TokenCounter = (*Counter)(nil)

// New resolves the encoding for model. Unknown models fail with
// domain.ErrUnsupportedModel; an encoding that cannot be loaded (for
// example, BPE ranks that cannot be fetched) fails with
// domain.ErrTokenizerLoad.
func New(model string) (*Counter, error) {
	name, ok := encodingFor(model)
	if !ok {
		return nil, domain.NewDomainError("tokenizer.New", domain.ErrUnsupportedModel, model)
	}
	return newWithEncoding(model, name)
}

func newWithEncoding(model, encoding string) (*Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, domain.NewDomainError("tokenizer.New", domain.ErrTokenizerLoad, encoding+": "+err.Error())
	}
	return &Counter{model: model, enc: enc}, nil
}

// encodingFor maps a model name to its encoding, by exact name first and
// then by prefix.
func encodingFor(model string) (string, bool) {
	if name, ok := tiktoken.MODEL_TO_ENCODING[model]; ok {
		return name, true
	}
	for prefix, name := range tiktoken.MODEL_PREFIX_TO_ENCODING {
		if strings.HasPrefix(model, prefix) {
			return name, true
		}
	}
	return "", false
}

// Model returns the model whose encoding is in use.
func (c *Counter) Model() string { return c.model }

// CountText returns the number of tokens in text. Special-token markers in
// user text are counted as ordinary text.
func (c *Counter) CountText(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.EncodeOrdinary(text))
}
