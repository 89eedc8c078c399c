package pipeline

import (
	"bgstudio/catalog"
)

// Fixed request fields.
const (
	OutputFormatPNG = "PNG"
	OutputTypeURL   = "URL"
	NumberResults   = 1
)

// GenerationRequest is one synthesis call. It is built by
// NewGenerationRequest and passed by value; adapters must not modify it.
type GenerationRequest struct {
	// TaskID is reused across retries of the same generation so the
	// provider can deduplicate and charge once.
	TaskID        string
	ModelID       string
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
	OutputFormat  string
	OutputType    string
	OutputQuality int
	NumberResults int
	Seed          int64
	CheckNSFW     bool
	IncludeCost   bool
	Prompt        catalog.PromptPair
	// SeedImage is the removed-background image the new background is
	// composed around.
	SeedImage        string
	ProviderSettings map[string]any
}

// NewGenerationRequest assembles a request from a tuned profile. Provider
// settings are copied, and only sent for premium-tier models.
func NewGenerationRequest(taskID string, model catalog.ModelProfile, prompt catalog.PromptPair, params catalog.ParamProfile, seed int64, seedImage string) GenerationRequest {
	req := GenerationRequest{
		TaskID:        taskID,
		ModelID:       model.ID,
		Steps:         params.Steps,
		GuidanceScale: params.GuidanceScale,
		Width:         params.Width,
		Height:        params.Height,
		OutputFormat:  OutputFormatPNG,
		OutputType:    OutputTypeURL,
		OutputQuality: params.OutputQuality,
		NumberResults: NumberResults,
		Seed:          seed,
		CheckNSFW:     false,
		IncludeCost:   true,
		Prompt:        prompt,
		SeedImage:     seedImage,
	}
	if model.QualityTier == catalog.QualityPremium {
		req.ProviderSettings = params.Clone().ProviderSettings
	}
	return req
}
