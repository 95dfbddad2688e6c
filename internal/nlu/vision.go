package nlu

import (
	"context"
	"fmt"

	"github.com/user/conserje/internal/catalog"
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/pkg/llm"
)

// Vision describes guest photos with a multimodal model (OpenAI-compatible
// or Gemini, depending on the provider it is given).
type Vision struct {
	provider llm.Provider
	areas    *catalog.Areas
}

// NewVision creates a photo analyzer.
func NewVision(provider llm.Provider, areas *catalog.Areas) *Vision {
	return &Vision{provider: provider, areas: areas}
}

// AnalyzeImage returns the model's reading of one image. Area hints that are
// not known area codes are dropped.
func (v *Vision) AnalyzeImage(ctx context.Context, in intake.VisionInput) (intake.VisionResult, error) {
	if len(in.Image) == 0 {
		return intake.VisionResult{}, fmt.Errorf("empty image")
	}
	user := "Foto del huésped."
	if in.ContextText != "" {
		user = "Mensaje del huésped: " + in.ContextText
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(VisionPrompt, areaList(v.areas))},
		{Role: llm.RoleUser, Content: user, Images: []llm.Image{{Data: in.Image, MimeType: in.MimeType}}},
	}
	resp, err := v.provider.Complete(ctx, messages, &llm.Options{JSON: true})
	if err != nil {
		return intake.VisionResult{}, fmt.Errorf("vision completion: %w", err)
	}

	var out intake.VisionResult
	if err := decodeJSON(resp.Content, visionValidator, &out); err != nil {
		return intake.VisionResult{}, err
	}
	if v.areas != nil {
		hints := out.AreaHints[:0]
		for _, h := range out.AreaHints {
			if code, ok := v.areas.Canonical(h); ok {
				hints = append(hints, code)
			}
		}
		out.AreaHints = hints
	}
	return out, nil
}
