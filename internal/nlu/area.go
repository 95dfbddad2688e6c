package nlu

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/textnorm"
	"github.com/user/conserje/pkg/llm"
)

// KeywordAreaDetector picks the area whose configured keywords appear most
// often in the text. Ties go to the area listed first.
type KeywordAreaDetector struct {
	areas    *catalog.Areas
	keywords map[string][]string
}

// NewKeywordAreaDetector builds a detector from the area catalog.
func NewKeywordAreaDetector(areas *catalog.Areas) *KeywordAreaDetector {
	kw := make(map[string][]string)
	for code, words := range areas.Keywords() {
		for _, w := range words {
			if s := textnorm.Simplify(w); s != "" {
				kw[code] = append(kw[code], s)
			}
		}
	}
	return &KeywordAreaDetector{areas: areas, keywords: kw}
}

// DetectArea never fails.
func (d *KeywordAreaDetector) DetectArea(_ context.Context, text string) (string, error) {
	simple := textnorm.Simplify(text)
	if simple == "" {
		return "", nil
	}
	best, bestHits := "", 0
	for _, code := range d.areas.Codes() {
		hits := 0
		for _, w := range d.keywords[code] {
			if textnorm.ContainsPhrase(simple, w) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = code, hits
		}
	}
	return best, nil
}

// LLMAreaDetector classifies text with a model and falls back to another
// detector when the model fails.
type LLMAreaDetector struct {
	provider llm.Provider
	areas    *catalog.Areas
	fallback *KeywordAreaDetector
	logger   *zap.Logger
}

// NewLLMAreaDetector creates a model-backed detector with keyword fallback.
func NewLLMAreaDetector(provider llm.Provider, areas *catalog.Areas, logger *zap.Logger) *LLMAreaDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMAreaDetector{
		provider: provider,
		areas:    areas,
		fallback: NewKeywordAreaDetector(areas),
		logger:   logger.Named("area_detector"),
	}
}

func (d *LLMAreaDetector) DetectArea(ctx context.Context, text string) (string, error) {
	code, err := d.ask(ctx, text)
	if err == nil {
		return code, nil
	}
	d.logger.Warn("area model failed, using keywords", zap.Error(err))
	return d.fallback.DetectArea(ctx, text)
}

func (d *LLMAreaDetector) ask(ctx context.Context, text string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(AreaPrompt, areaList(d.areas))},
		{Role: llm.RoleUser, Content: text},
	}
	resp, err := d.provider.Complete(ctx, messages, &llm.Options{JSON: true, MaxTokens: 50})
	if err != nil {
		return "", fmt.Errorf("area completion: %w", err)
	}
	var out struct {
		Area string `json:"area"`
	}
	if err := decodeJSON(resp.Content, areaValidator, &out); err != nil {
		return "", err
	}
	if out.Area == "" {
		return "", nil
	}
	code, ok := d.areas.Canonical(out.Area)
	if !ok {
		return "", fmt.Errorf("%w: unknown area %q", ErrInvalidResponse, out.Area)
	}
	return code, nil
}
