// Package nlu provides the model-backed collaborators of the intake engine:
// the turn interpreter, photo analyzer, area detectors and the informal place
// classifier. Every model answer is requested as JSON and validated against a
// schema before use.
package nlu

import (
	"github.com/user/conserje/internal/intake"
	"github.com/user/conserje/internal/resolve"
)

var _ intake.Interpreter = (*Interpreter)(nil)
var _ intake.VisionAnalyzer = (*Vision)(nil)
var _ resolve.AreaDetector = (*KeywordAreaDetector)(nil)
var _ resolve.AreaDetector = (*LLMAreaDetector)(nil)
var _ resolve.InformalClassifier = (*PlaceClassifier)(nil)
