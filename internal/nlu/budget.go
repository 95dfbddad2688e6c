// internal/nlu/budget.go
package nlu

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/user/conserje/internal/types"
)

// PromptBudget keeps interpreter prompts inside the model's context window.
type PromptBudget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// NewPromptBudget creates a budget for model. maxTokens is the model's
// context window; reserve is kept free for the answer. When no encoding can
// be loaded, token counts are estimated from the text length.
func NewPromptBudget(model string, maxTokens, reserve int) *PromptBudget {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			enc = nil
		}
	}
	return &PromptBudget{tokenizer: enc, maxTokens: maxTokens, reserve: reserve}
}

// Count returns the token count for text.
func (b *PromptBudget) Count(text string) int {
	if b.tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Input returns the tokens available for the prompt.
func (b *PromptBudget) Input() int {
	return b.maxTokens - b.reserve
}

// FitHistory returns the most recent history entries that fit in 70% of what
// is left after the fixed prompt parts, oldest first.
func (b *PromptBudget) FitHistory(fixed []string, history []types.HistoryEntry) []types.HistoryEntry {
	remaining := b.Input()
	for _, part := range fixed {
		remaining -= b.Count(part)
	}
	historyBudget := int(float64(remaining) * 0.7)
	if historyBudget <= 0 {
		return nil
	}

	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := b.Count(history[i].Text) + 4
		if used+n > historyBudget {
			break
		}
		used += n
		start = i
	}
	return history[start:]
}
