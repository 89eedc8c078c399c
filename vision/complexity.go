package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bgstudio/logging"
	"bgstudio/pipeline"
)

// Default thresholds of the complexity analyzer.
const (
	// DefaultGradientThreshold is the Sobel magnitude above which a pixel
	// counts as an edge.
	DefaultGradientThreshold = 96.0

	// DefaultHighComplexity is the edge density above which a product is
	// treated as high complexity.
	DefaultHighComplexity = 0.12
)

// ImageFetcher loads the bytes behind an image reference.
// imagegen.Downloader satisfies it.
type ImageFetcher interface {
	DownloadBytes(ctx context.Context, url string) ([]byte, string, error)
}

// ComplexityAnalyzer scores an image by edge density and implements
// pipeline.ComplexityAnalyzer.
//
// Thread Safety: ComplexityAnalyzer is safe for concurrent use.
type ComplexityAnalyzer struct {
	fetcher           ImageFetcher
	analysisSize      int
	gradientThreshold float64
	highThreshold     float64
	logger            *logging.Logger
}

// AnalyzerOption configures a ComplexityAnalyzer.
type AnalyzerOption func(*ComplexityAnalyzer)

// WithHighThreshold overrides DefaultHighComplexity.
func WithHighThreshold(density float64) AnalyzerOption {
	return func(a *ComplexityAnalyzer) { a.highThreshold = density }
}

// WithLogger sets the analyzer logger.
func WithLogger(logger *logging.Logger) AnalyzerOption {
	return func(a *ComplexityAnalyzer) { a.logger = logger }
}

// NewComplexityAnalyzer creates an analyzer that loads images through
// fetcher.
func NewComplexityAnalyzer(fetcher ImageFetcher, opts ...AnalyzerOption) *ComplexityAnalyzer {
	a := &ComplexityAnalyzer{
		fetcher:           fetcher,
		analysisSize:      DefaultAnalysisSize,
		gradientThreshold: DefaultGradientThreshold,
		highThreshold:     DefaultHighComplexity,
		logger:            logging.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("complexity")
	return a
}

// Analyze implements pipeline.ComplexityAnalyzer.
func (a *ComplexityAnalyzer) Analyze(ctx context.Context, imageRef string) (pipeline.ComplexitySignal, error) {
	start := time.Now()
	data, _, err := a.fetcher.DownloadBytes(ctx, imageRef)
	if err != nil {
		return pipeline.ComplexitySignal{}, fmt.Errorf("vision: load image: %w", err)
	}
	signal, err := a.AnalyzeBytes(data)
	if err != nil {
		return pipeline.ComplexitySignal{}, err
	}
	a.logger.Debug("image analysed",
		zap.String("complexity", signal.Complexity),
		zap.Float64("edge_density", signal.Score),
		zap.Duration("elapsed", time.Since(start)),
	)
	return signal, nil
}

// AnalyzeBytes scores already loaded image data.
func (a *ComplexityAnalyzer) AnalyzeBytes(data []byte) (pipeline.ComplexitySignal, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return pipeline.ComplexitySignal{}, err
	}
	density := EdgeDensity(ToGray(ResizeToFit(img, a.analysisSize)), a.gradientThreshold)

	complexity := pipeline.ComplexityLow
	if density > a.highThreshold {
		complexity = pipeline.ComplexityHigh
	}
	return pipeline.ComplexitySignal{Complexity: complexity, Score: density}, nil
}

var _ pipeline.ComplexityAnalyzer = (*ComplexityAnalyzer)(nil)
