package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GenerationMetrics summarizes one background synthesis for the log.
// It is built by the pipeline after a generation finishes or fails.
type GenerationMetrics struct {
	ModelID       string
	QualityTier   string
	BudgetTier    string
	Category      string
	Steps         int
	GuidanceScale float64
	Width         int
	Height        int
	Seed          int64
	Cost          string
	Attempts      int
	Duration      time.Duration
	Success       bool
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (m GenerationMetrics) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("model_id", m.ModelID)
	if m.QualityTier != "" {
		enc.AddString("quality_tier", m.QualityTier)
	}
	if m.BudgetTier != "" {
		enc.AddString("budget_tier", m.BudgetTier)
	}
	if m.Category != "" {
		enc.AddString("category", m.Category)
	}
	enc.AddInt("steps", m.Steps)
	enc.AddFloat64("guidance_scale", m.GuidanceScale)
	enc.AddInt("width", m.Width)
	enc.AddInt("height", m.Height)
	enc.AddInt64("seed", m.Seed)
	if m.Cost != "" {
		enc.AddString("cost", m.Cost)
	}
	enc.AddInt("attempts", m.Attempts)
	enc.AddInt64("duration_ms", m.Duration.Milliseconds())
	enc.AddBool("success", m.Success)
	return nil
}

// Generation wraps metrics as a single "generation" object field.
func Generation(m GenerationMetrics) zap.Field {
	return zap.Object("generation", m)
}
