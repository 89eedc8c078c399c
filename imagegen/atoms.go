// Package imagegen contains the provider adapters of the background
// pipeline: Runware for background removal and synthesis, and an
// OpenAI/Azure image API adapter as an alternative synthesizer.
//
// atoms.go holds the pure helpers shared by the adapters.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"bgstudio/pipeline"
)

// IsAzureEndpoint reports whether endpoint is an Azure OpenAI resource.
//
//	IsAzureEndpoint("https://myresource.openai.azure.com")             // true
//	IsAzureEndpoint("https://myresource.cognitiveservices.azure.com") // true
//	IsAzureEndpoint("https://api.openai.com/v1")                      // false
func IsAzureEndpoint(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "openai.azure.com") ||
		strings.Contains(lower, "cognitiveservices.azure.com")
}

// isRetryableStatus reports whether an HTTP status is worth retrying:
// rate limiting, request timeouts and server-side failures.
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}

// statusError classifies a non-2xx HTTP response.
func statusError(op string, status int, detail string) *pipeline.ProviderError {
	err := fmt.Errorf("%s", http.StatusText(status))
	if detail != "" {
		err = fmt.Errorf("%s: %s", http.StatusText(status), detail)
	}
	if isRetryableStatus(status) {
		return pipeline.TransientError(op, status, err)
	}
	return pipeline.PermanentError(op, status, err)
}

// transportError classifies a failure to get any response at all.
// Cancellation keeps its identity so the retry policy stops.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("imagegen: %s: %w", op, ctxErr)
	}
	return pipeline.TransientError(op, 0, err)
}

// formatSize renders an OpenAI image size such as "1024x1024".
func formatSize(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1024x1024"
	}
	return fmt.Sprintf("%dx%d", width, height)
}

// combinePrompt folds the negative prompt into the positive text for APIs
// that have no separate negative prompt.
func combinePrompt(p string, negative string) string {
	if strings.TrimSpace(negative) == "" {
		return p
	}
	return p + "\n\nAvoid: " + negative
}
