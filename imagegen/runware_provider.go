package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bgstudio/catalog"
	"bgstudio/core"
	"bgstudio/logging"
	"bgstudio/pipeline"
)

// Runware task types used by the pipeline.
const (
	taskBackgroundRemoval = "imageBackgroundRemoval"
	taskImageInference    = "imageInference"
)

// maxResponseBytes caps how much of a Runware response is read.
const maxResponseBytes = 1 << 20

// RunwareProvider talks to Runware's HTTP task API. It implements both
// pipeline.BackgroundRemover and pipeline.Synthesizer.
//
// Every call posts a one-element task array and matches the response by
// taskUUID. The task UUID of a GenerationRequest is kept across retries so
// Runware can deduplicate a request that reached it before a timeout.
//
// Thread Safety: RunwareProvider is safe for concurrent use.
type RunwareProvider struct {
	client   *http.Client
	endpoint string
	apiKey   string
	logger   *logging.Logger
}

// RunwareConfig configures a RunwareProvider.
type RunwareConfig struct {
	APIKey   string
	Endpoint string
	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// NewRunwareProvider builds a provider from the service configuration.
func NewRunwareProvider(cfg *core.Config, logger *logging.Logger) (*RunwareProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	return NewRunwareProviderWithConfig(RunwareConfig{
		APIKey:     cfg.RunwareAPIKey,
		Endpoint:   cfg.RunwareAPIURL,
		HTTPClient: core.GetHTTPClient(cfg, cfg.AITimeout),
		Logger:     logger,
	})
}

// NewRunwareProviderWithConfig is used by tests to point at httptest servers.
func NewRunwareProviderWithConfig(cfg RunwareConfig) (*RunwareProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: Runware API key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = core.DefaultRunwareURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &RunwareProvider{
		client:   client,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		logger:   logger.Named("runware"),
	}, nil
}

// runwareTask is the union of the task fields this adapter sends.
type runwareTask struct {
	TaskType         string         `json:"taskType"`
	TaskUUID         string         `json:"taskUUID"`
	InputImage       string         `json:"inputImage,omitempty"`
	PositivePrompt   string         `json:"positivePrompt,omitempty"`
	NegativePrompt   string         `json:"negativePrompt,omitempty"`
	Model            string         `json:"model,omitempty"`
	Steps            int            `json:"steps,omitempty"`
	CFGScale         float64        `json:"CFGScale,omitempty"`
	Width            int            `json:"width,omitempty"`
	Height           int            `json:"height,omitempty"`
	SeedImage        string         `json:"seedImage,omitempty"`
	Seed             *int64         `json:"seed,omitempty"`
	NumberResults    int            `json:"numberResults,omitempty"`
	OutputType       string         `json:"outputType"`
	OutputFormat     string         `json:"outputFormat"`
	OutputQuality    int            `json:"outputQuality,omitempty"`
	CheckNSFW        *bool          `json:"checkNSFW,omitempty"`
	IncludeCost      bool           `json:"includeCost"`
	ProviderSettings map[string]any `json:"providerSettings,omitempty"`
}

type runwareResult struct {
	TaskType     string   `json:"taskType"`
	TaskUUID     string   `json:"taskUUID"`
	ImageURL     string   `json:"imageURL"`
	Cost         *float64 `json:"cost"`
	NSFWContent  bool     `json:"NSFWContent"`
	ImageUUID    string   `json:"imageUUID"`
	MaskImageURL string   `json:"maskImageURL"`
}

type runwareError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Parameter string `json:"parameter"`
	TaskUUID  string `json:"taskUUID"`
}

type runwareResponse struct {
	Data   []runwareResult `json:"data"`
	Errors []runwareError  `json:"errors"`
}

// RemoveBackground implements pipeline.BackgroundRemover.
func (p *RunwareProvider) RemoveBackground(ctx context.Context, imageRef string, params pipeline.RemovalParams) (pipeline.RemovalResult, error) {
	op := pipeline.OpRemoveBackground
	if imageRef == "" {
		return pipeline.RemovalResult{}, pipeline.PermanentError(op, 0, errors.New("image reference is empty"))
	}
	taskID := params.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	task := runwareTask{
		TaskType:      taskBackgroundRemoval,
		TaskUUID:      taskID,
		InputImage:    imageRef,
		OutputType:    params.OutputType,
		OutputFormat:  params.OutputFormat,
		OutputQuality: params.OutputQuality,
		IncludeCost:   params.IncludeCost,
	}
	res, err := p.run(ctx, op, task)
	if err != nil {
		return pipeline.RemovalResult{}, err
	}
	return pipeline.RemovalResult{ImageURL: res.ImageURL, Cost: costOf(res)}, nil
}

// Synthesize implements pipeline.Synthesizer.
func (p *RunwareProvider) Synthesize(ctx context.Context, req pipeline.GenerationRequest) (pipeline.SynthesisResult, error) {
	op := pipeline.OpSynthesize
	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	seed := req.Seed
	checkNSFW := req.CheckNSFW
	task := runwareTask{
		TaskType:         taskImageInference,
		TaskUUID:         taskID,
		PositivePrompt:   req.Prompt.Positive,
		NegativePrompt:   req.Prompt.Negative,
		Model:            req.ModelID,
		Steps:            req.Steps,
		CFGScale:         req.GuidanceScale,
		Width:            req.Width,
		Height:           req.Height,
		SeedImage:        req.SeedImage,
		Seed:             &seed,
		NumberResults:    req.NumberResults,
		OutputType:       req.OutputType,
		OutputFormat:     req.OutputFormat,
		OutputQuality:    req.OutputQuality,
		CheckNSFW:        &checkNSFW,
		IncludeCost:      req.IncludeCost,
		ProviderSettings: req.ProviderSettings,
	}
	res, err := p.run(ctx, op, task)
	if err != nil {
		return pipeline.SynthesisResult{}, err
	}
	if res.NSFWContent {
		perr := pipeline.PermanentError(op, 0, errors.New("result flagged as NSFW content"))
		perr.Cost = costOf(res)
		return pipeline.SynthesisResult{}, perr
	}
	return pipeline.SynthesisResult{ImageURL: res.ImageURL, Cost: costOf(res), NSFW: res.NSFWContent}, nil
}

// run posts one task and returns its result entry.
func (p *RunwareProvider) run(ctx context.Context, op string, task runwareTask) (runwareResult, error) {
	body, err := json.Marshal([]runwareTask{task})
	if err != nil {
		return runwareResult{}, pipeline.PermanentError(op, 0, fmt.Errorf("encode task: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return runwareResult{}, pipeline.PermanentError(op, 0, fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return runwareResult{}, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return runwareResult{}, transportError(ctx, op, fmt.Errorf("read response: %w", err))
	}

	p.logger.Debug("runware task finished",
		zap.String("task_type", task.TaskType),
		logging.TaskID(task.TaskUUID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	var decoded runwareResponse
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return runwareResult{}, statusError(op, resp.StatusCode, describeErrors(decoded.Errors, raw, decodeErr))
	}
	if decodeErr != nil {
		return runwareResult{}, pipeline.UnknownResponseError(op, fmt.Errorf("decode response: %w", decodeErr))
	}
	if len(decoded.Errors) > 0 {
		return runwareResult{}, pipeline.PermanentError(op, resp.StatusCode, errors.New(describeErrors(decoded.Errors, nil, nil)))
	}

	for _, res := range decoded.Data {
		if res.TaskUUID == task.TaskUUID || (res.TaskUUID == "" && len(decoded.Data) == 1) {
			if res.ImageURL == "" {
				return runwareResult{}, pipeline.UnknownResponseError(op, errors.New("result has no imageURL"))
			}
			return res, nil
		}
	}
	return runwareResult{}, pipeline.UnknownResponseError(op, fmt.Errorf("no result for task %s", task.TaskUUID))
}

func describeErrors(errs []runwareError, raw []byte, decodeErr error) string {
	if len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for _, e := range errs {
			msg := e.Message
			if e.Code != "" {
				msg = e.Code + ": " + msg
			}
			if e.Parameter != "" {
				msg += " (" + e.Parameter + ")"
			}
			parts = append(parts, msg)
		}
		return strings.Join(parts, "; ")
	}
	if decodeErr != nil && len(raw) > 0 {
		text := strings.TrimSpace(string(raw))
		if len(text) > 200 {
			text = text[:200]
		}
		return logging.RedactSensitiveData(text)
	}
	return ""
}

func costOf(res runwareResult) catalog.Amount {
	if res.Cost == nil || *res.Cost < 0 {
		return 0
	}
	return catalog.NewAmount(*res.Cost)
}

var (
	_ pipeline.BackgroundRemover = (*RunwareProvider)(nil)
	_ pipeline.Synthesizer       = (*RunwareProvider)(nil)
)
