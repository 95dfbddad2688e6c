package nlu

import (
	"context"
	"fmt"

	"github.com/user/conserje/internal/resolve"
	"github.com/user/conserje/internal/textnorm"
	"github.com/user/conserje/pkg/llm"
)

// PlaceClassifier maps colloquial place descriptions ("la alberca de
// niños", "donde desayunamos") onto catalog labels.
type PlaceClassifier struct {
	provider llm.Provider
}

// NewPlaceClassifier creates an informal place classifier.
func NewPlaceClassifier(provider llm.Provider) *PlaceClassifier {
	return &PlaceClassifier{provider: provider}
}

// ClassifyPlace answers Found only for a label that is one of candidates.
func (c *PlaceClassifier) ClassifyPlace(ctx context.Context, text string, candidates []string) (resolve.InformalResult, error) {
	if len(candidates) == 0 {
		return resolve.InformalResult{}, nil
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(PlacePrompt, bulletList(candidates))},
		{Role: llm.RoleUser, Content: text},
	}
	resp, err := c.provider.Complete(ctx, messages, &llm.Options{JSON: true, MaxTokens: 80})
	if err != nil {
		return resolve.InformalResult{}, fmt.Errorf("place completion: %w", err)
	}
	var out struct {
		Found      bool    `json:"found"`
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := decodeJSON(resp.Content, placeValidator, &out); err != nil {
		return resolve.InformalResult{}, err
	}
	if !out.Found {
		return resolve.InformalResult{}, nil
	}
	want := textnorm.Simplify(out.Label)
	for _, cand := range candidates {
		if textnorm.Simplify(cand) == want {
			return resolve.InformalResult{Found: true, CanonicalLabel: cand, Confidence: out.Confidence}, nil
		}
	}
	return resolve.InformalResult{}, nil
}
