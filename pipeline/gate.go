package pipeline

import "strings"

// IsStageComplete reports whether the artifact of stage is present in s.
//
//	Upload             uploaded image ref set
//	BackgroundRemoved  removed-background image ref set
//	StyleChosen        style selected, or custom prompt non-blank
//	Synthesized        final image ref set
func IsStageComplete(stage Stage, s State) bool {
	switch stage {
	case StageUpload:
		return s.UploadedImageRef != ""
	case StageBackgroundRemoved:
		return s.RemovedBgImageRef != ""
	case StageStyleChosen:
		if s.SelectedStyle != nil {
			return true
		}
		return s.CustomPrompt != nil && strings.TrimSpace(*s.CustomPrompt) != ""
	case StageSynthesized:
		return s.FinalImageRef != nil && *s.FinalImageRef != ""
	}
	return false
}

// CanAdvanceTo reports whether every stage before stage is complete.
// Upload is always reachable.
func CanAdvanceTo(stage Stage, s State) bool {
	_, blocked := FirstIncomplete(stage, s)
	return !blocked && stage.Valid()
}

// FirstIncomplete walks the prerequisites of stage in order and returns
// the first one that is not complete. The bool is false when stage is
// reachable.
func FirstIncomplete(stage Stage, s State) (Stage, bool) {
	for prev := StageUpload; prev < stage; prev++ {
		if !IsStageComplete(prev, s) {
			return prev, true
		}
	}
	return stage, false
}

// StageStatus is the per-stage view offered to UI collaborators.
type StageStatus struct {
	Stage     Stage `json:"stage"`
	Complete  bool  `json:"complete"`
	Reachable bool  `json:"reachable"`
}

// Availability evaluates the gate for every stage.
func Availability(s State) []StageStatus {
	out := make([]StageStatus, 0, len(Stages))
	for _, stage := range Stages {
		out = append(out, StageStatus{
			Stage:     stage,
			Complete:  IsStageComplete(stage, s),
			Reachable: CanAdvanceTo(stage, s),
		})
	}
	return out
}
