package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"bgstudio/catalog"
	"bgstudio/core"
	"bgstudio/logging"
	"bgstudio/pipeline"
)

// DefaultOpenAIImageModel is used when no image model is configured.
const DefaultOpenAIImageModel = "dall-e-3"

// OpenAIProvider synthesizes backgrounds through the OpenAI image API or an
// Azure OpenAI deployment. It implements pipeline.Synthesizer.
//
// The image API has no negative prompt, no seed and no seed image, so the
// negative prompt is folded into the text and the cut-out product is
// composited by the caller. Catalog model ids are not OpenAI models: the
// configured image model is always used and premium catalog models map to
// "hd" quality. The API reports no cost, so the catalog unit cost of the
// requested model is charged.
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	catalog *catalog.Catalog
	logger  *logging.Logger
}

// OpenAIProviderConfig holds configuration specific to the OpenAI provider.
type OpenAIProviderConfig struct {
	// APIKey is the OpenAI or Azure API key (required).
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1).
	// Azure endpoints are detected with IsAzureEndpoint.
	BaseURL string

	// Model is the image model or Azure deployment (default: dall-e-3).
	Model string

	// AzureAPIVersion is only used for Azure endpoints.
	AzureAPIVersion string

	HTTPClient *http.Client
	Catalog    *catalog.Catalog
	Logger     *logging.Logger
}

// NewOpenAIProvider creates an OpenAI image provider from the service
// configuration.
//
// Example:
//
//	provider, err := NewOpenAIProvider(cfg, cat, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := provider.Synthesize(ctx, req)
func NewOpenAIProvider(cfg *core.Config, cat *catalog.Catalog, logger *logging.Logger) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	return NewOpenAIProviderWithConfig(OpenAIProviderConfig{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.ImageLLMURL,
		Model:           cfg.OpenAIImageModel,
		AzureAPIVersion: cfg.AzureAPIVersion,
		HTTPClient:      core.GetHTTPClient(cfg, cfg.AITimeout),
		Catalog:         cat,
		Logger:          logger,
	})
}

// NewOpenAIProviderWithConfig creates an OpenAI provider with explicit
// configuration. Tests use it to point at an httptest server.
func NewOpenAIProviderWithConfig(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: OpenAI API key is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("imagegen: catalog cannot be nil")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIImageModel
	}

	var clientConfig openai.ClientConfig
	if cfg.BaseURL != "" && IsAzureEndpoint(cfg.BaseURL) {
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.AzureAPIVersion != "" {
			clientConfig.APIVersion = cfg.AzureAPIVersion
		}
		clientConfig.AzureModelMapperFunc = func(string) string { return model }
	} else {
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		catalog: cfg.Catalog,
		logger:  logger.Named("openai"),
	}, nil
}

// Synthesize implements pipeline.Synthesizer.
func (p *OpenAIProvider) Synthesize(ctx context.Context, req pipeline.GenerationRequest) (pipeline.SynthesisResult, error) {
	op := pipeline.OpSynthesize
	if req.Prompt.Positive == "" {
		return pipeline.SynthesisResult{}, pipeline.PermanentError(op, 0, errors.New("prompt cannot be empty"))
	}
	profile, ok := p.catalog.Model(req.ModelID)
	if !ok {
		return pipeline.SynthesisResult{}, pipeline.PermanentError(op, 0, fmt.Errorf("unknown model %q", req.ModelID))
	}

	imageReq := openai.ImageRequest{
		Prompt:         combinePrompt(req.Prompt.Positive, req.Prompt.Negative),
		Model:          p.model,
		Size:           formatSize(req.Width, req.Height),
		ResponseFormat: openai.CreateImageResponseFormatURL,
		N:              1,
		User:           req.TaskID,
	}
	if p.model == DefaultOpenAIImageModel {
		imageReq.Style = openai.CreateImageStyleNatural
		if profile.QualityTier == catalog.QualityPremium {
			imageReq.Quality = openai.CreateImageQualityHD
		}
	}

	start := time.Now()
	response, err := p.client.CreateImage(ctx, imageReq)
	if err != nil {
		return pipeline.SynthesisResult{}, p.classify(ctx, err)
	}
	p.logger.Debug("image created",
		logging.TaskID(req.TaskID),
		zap.String("model", p.model),
		zap.Duration("elapsed", time.Since(start)),
	)

	if len(response.Data) == 0 || response.Data[0].URL == "" {
		return pipeline.SynthesisResult{}, pipeline.UnknownResponseError(op, errors.New("response has no image URL"))
	}
	return pipeline.SynthesisResult{ImageURL: response.Data[0].URL, Cost: profile.UnitCost}, nil
}

// Model returns the configured image model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// classify maps go-openai errors onto provider error kinds.
func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	op := pipeline.OpSynthesize

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		// content_policy_violation comes back as 400 and is permanent like
		// every other client error.
		return statusError(op, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := ""
		if reqErr.Err != nil {
			detail = logging.RedactSensitiveData(reqErr.Err.Error())
		}
		return statusError(op, reqErr.HTTPStatusCode, detail)
	}
	return transportError(ctx, op, err)
}

var _ pipeline.Synthesizer = (*OpenAIProvider)(nil)
