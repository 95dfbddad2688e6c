package intake

import (
	"context"
	"time"

	"github.com/user/conserje/internal/types"
)

// TurnInput is what the interpreter sees of a turn.
type TurnInput struct {
	Text      string
	FocusMode types.Mode
	Draft     types.Draft
	History   []types.HistoryEntry
}

// Meta carries the interpreter's judgement about how the turn relates to the
// draft in progress.
type Meta struct {
	IsNewIncidentCandidate bool `json:"is_new_incident_candidate"`
	IsPlaceCorrectionOnly  bool `json:"is_place_correction_only"`
}

// Interpretation is the interpreter's structured reading of a turn.
type Interpretation struct {
	Ops      []Op
	Analysis string
	Meta     Meta
}

// Interpreter turns guest text into draft operations.
type Interpreter interface {
	Interpret(ctx context.Context, in TurnInput) (Interpretation, error)
}

// VisionInput is one image to analyze.
type VisionInput struct {
	Image       []byte
	MimeType    string
	ContextText string
}

// VisionResult is what the vision analyzer extracted from an image.
type VisionResult struct {
	Interpretation string   `json:"interpretation"`
	Tags           []string `json:"tags"`
	Safety         []string `json:"safety"`
	AreaHints      []string `json:"area_hints"`
}

// VisionAnalyzer describes photos.
type VisionAnalyzer interface {
	AnalyzeImage(ctx context.Context, in VisionInput) (VisionResult, error)
}

// Replier sends a message back to the guest. Failures are the engine's to
// swallow.
type Replier interface {
	Reply(ctx context.Context, text string) error
}

// ReplyFunc adapts a function to Replier.
type ReplyFunc func(ctx context.Context, text string) error

func (f ReplyFunc) Reply(ctx context.Context, text string) error { return f(ctx, text) }

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
