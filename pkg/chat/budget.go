package chat

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

const DefaultEncoding = string(tokenizer.Cl100kBase)

// TokenBudget caps the size of a single user prompt.
type TokenBudget struct {
	codec           tokenizer.Codec
	MaxPromptTokens int
}

// NewTokenBudget returns nil when maxPromptTokens is not positive, which disables the check.
func NewTokenBudget(encoding string, maxPromptTokens int) (*TokenBudget, error) {
	if maxPromptTokens <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(encoding) == "" {
		encoding = DefaultEncoding
	}
	codec, err := tokenizer.Get(tokenizer.Encoding(encoding))
	if err != nil {
		return nil, errors.Wrapf(err, "load tokenizer %q", encoding)
	}
	return &TokenBudget{codec: codec, MaxPromptTokens: maxPromptTokens}, nil
}

func (b *TokenBudget) Count(text string) (int, error) {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "count prompt tokens")
	}
	return len(ids), nil
}

// Check rejects prompts above the limit with ErrInvalidArgument. A nil budget accepts everything.
func (b *TokenBudget) Check(prompt string) error {
	if b == nil || b.codec == nil {
		return nil
	}
	n, err := b.Count(prompt)
	if err != nil {
		return err
	}
	if n > b.MaxPromptTokens {
		return errors.Wrapf(ErrInvalidArgument, "prompt has %d tokens, limit is %d", n, b.MaxPromptTokens)
	}
	return nil
}
