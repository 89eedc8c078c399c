package pipeline

import (
	"strings"

	"bgstudio/catalog"
)

// Hard ceilings on tuned parameters.
const (
	MaxSteps         = 50
	MaxGuidanceScale = 15.0

	highComplexityStepBoost     = 10
	highComplexityGuidanceBoost = 2.0
)

// Complexity values understood by ParamTuner. Anything other than
// ComplexityHigh leaves the base profile untouched.
const (
	ComplexityLow  = "low"
	ComplexityHigh = "high"
	// ComplexityAuto asks the orchestrator to measure the image instead.
	ComplexityAuto = "auto"
)

// ComplexitySignal is a hint describing how visually complex the source
// image is.
type ComplexitySignal struct {
	Complexity string `json:"complexity"`
	// Score is the analyzer's raw measurement, when one was taken.
	Score float64 `json:"score,omitempty"`
}

// IsHigh reports whether the signal asks for the high-complexity boost.
func (s ComplexitySignal) IsHigh() bool {
	return strings.EqualFold(strings.TrimSpace(s.Complexity), ComplexityHigh)
}

// ParamTuner derives generation parameters from a base profile.
type ParamTuner struct{}

// Tune returns a fresh copy of base. For high complexity the step count is
// raised by 10 and guidance by 2. Steps and guidance are always clamped to
// MaxSteps and MaxGuidanceScale, so an out-of-range base is capped too.
func (ParamTuner) Tune(base catalog.ParamProfile, signal ComplexitySignal) catalog.ParamProfile {
	out := base.Clone()
	if signal.IsHigh() {
		out.Steps += highComplexityStepBoost
		out.GuidanceScale += highComplexityGuidanceBoost
	}
	out.Steps = min(out.Steps, MaxSteps)
	out.GuidanceScale = min(out.GuidanceScale, MaxGuidanceScale)
	return out
}
