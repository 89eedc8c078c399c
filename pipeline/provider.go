package pipeline

import (
	"context"

	"bgstudio/catalog"
)

// BackgroundRemover is the provider adapter capability for stage 1.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, imageRef string, params RemovalParams) (RemovalResult, error)
}

// Synthesizer is the provider adapter capability for stage 3.
type Synthesizer interface {
	Synthesize(ctx context.Context, req GenerationRequest) (SynthesisResult, error)
}

// ComplexityAnalyzer measures a source image when the caller asks for
// ComplexityAuto. It is optional.
type ComplexityAnalyzer interface {
	Analyze(ctx context.Context, imageRef string) (ComplexitySignal, error)
}

// RemovalParams are the fixed output settings of a background removal.
type RemovalParams struct {
	TaskID        string
	OutputFormat  string
	OutputType    string
	OutputQuality int
	IncludeCost   bool
}

// RemovalResult carries the cut-out image (or mask) reference.
type RemovalResult struct {
	ImageURL string
	Cost     catalog.Amount
}

// SynthesisResult carries the generated background reference.
type SynthesisResult struct {
	ImageURL string
	Cost     catalog.Amount
	NSFW     bool
}
