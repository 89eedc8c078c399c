// Package pipeline implements the four-stage background generation
// workflow: upload, background removal, style selection and background
// synthesis.
//
// The package is organised leaf-first:
//   - Atoms: StepGate (gate.go), PromptResolver (prompt.go), ParamTuner
//     (tuner.go), ModelSelector (selector.go), CostLedger (ledger.go).
//     All of them are pure and safe for concurrent use.
//   - Molecules: RetryPolicy (retry.go) and the GenerationRequest builder
//     (request.go).
//   - Organism: Orchestrator (orchestrator.go), which owns one State and
//     drives the provider adapters through the retry policy.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"bgstudio/catalog"
)

// Stage is one of the four ordered pipeline steps.
type Stage int

const (
	StageUpload Stage = iota
	StageBackgroundRemoved
	StageStyleChosen
	StageSynthesized
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageUpload, StageBackgroundRemoved, StageStyleChosen, StageSynthesized}

var stageNames = map[Stage]string{
	StageUpload:            "upload",
	StageBackgroundRemoved: "background_removed",
	StageStyleChosen:       "style_chosen",
	StageSynthesized:       "synthesized",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Valid reports whether s is one of the four pipeline stages.
func (s Stage) Valid() bool {
	return s >= StageUpload && s <= StageSynthesized
}

// ParseStage is the inverse of Stage.String.
func ParseStage(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("pipeline: unknown stage %q", name)
}

func (s Stage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("pipeline: invalid stage %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// State is the per-workflow pipeline state. Only the Orchestrator mutates
// it; everything else works on copies returned by Snapshot.
//
// Gating depends only on the artifact fields. ModelID, Cost, Attempts and
// UpdatedAt are bookkeeping for the storage sink.
type State struct {
	Stage             Stage             `json:"stage"`
	UploadedImageRef  string            `json:"uploadedImageRef,omitempty"`
	RemovedBgImageRef string            `json:"removedBgImageRef,omitempty"`
	SelectedStyle     *catalog.Category `json:"selectedStyle,omitempty"`
	CustomPrompt      *string           `json:"customPrompt,omitempty"`
	FinalImageRef     *string           `json:"finalImageRef,omitempty"`

	ModelID   string         `json:"modelId,omitempty"`
	Cost      catalog.Amount `json:"cost"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// NewState returns a fresh state at Upload with no artifacts.
func NewState() State {
	return State{Stage: StageUpload}
}

// Clone returns a copy that shares no pointers with s.
func (s State) Clone() State {
	out := s
	if s.SelectedStyle != nil {
		style := *s.SelectedStyle
		out.SelectedStyle = &style
	}
	if s.CustomPrompt != nil {
		prompt := *s.CustomPrompt
		out.CustomPrompt = &prompt
	}
	if s.FinalImageRef != nil {
		ref := *s.FinalImageRef
		out.FinalImageRef = &ref
	}
	return out
}

// Final returns the final image reference, or "" before synthesis.
func (s State) Final() string {
	if s.FinalImageRef == nil {
		return ""
	}
	return *s.FinalImageRef
}

// MarshalBinary and UnmarshalBinary let State be stored directly as a
// Redis value.
func (s State) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

func (s *State) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}
