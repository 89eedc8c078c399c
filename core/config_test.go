package core

import (
	"errors"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RUNWARE_API_KEY", "rw-test")
	t.Setenv("SYNTHESIS_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("MAX_RETRIES", "")
	t.Setenv("RETRY_DELAY_MS", "")
	t.Setenv("PORT", "")
	t.Setenv("MAX_IMAGE_SIZE", "")
	t.Setenv("WORKFLOW_TTL", "")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SynthesisProvider != ProviderRunware {
		t.Errorf("SynthesisProvider = %q, want runware", cfg.SynthesisProvider)
	}
	if cfg.RunwareAPIURL != DefaultRunwareURL {
		t.Errorf("RunwareAPIURL = %q", cfg.RunwareAPIURL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryDelay != 2000*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 2s", cfg.RetryDelay)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.WorkflowTTL != 24*time.Hour {
		t.Errorf("WorkflowTTL = %v, want 24h", cfg.WorkflowTTL)
	}
	if cfg.MaxImageBytes != 20*BytesPerMB {
		t.Errorf("MaxImageBytes = %d", cfg.MaxImageBytes)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SYNTHESIS_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RETRY_DELAY_MS", "250")
	t.Setenv("WORKFLOW_TTL", "90m")
	t.Setenv("MAX_IMAGE_SIZE", "5MB")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SynthesisProvider != ProviderOpenAI {
		t.Errorf("SynthesisProvider = %q, want openai", cfg.SynthesisProvider)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.WorkflowTTL != 90*time.Minute {
		t.Errorf("WorkflowTTL = %v", cfg.WorkflowTTL)
	}
	if cfg.MaxImageBytes != 5*BytesPerMB {
		t.Errorf("MaxImageBytes = %d", cfg.MaxImageBytes)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		code string
	}{
		{"missing runware key", map[string]string{"RUNWARE_API_KEY": ""}, ErrCodeMissingAuth},
		{"openai without key", map[string]string{"SYNTHESIS_PROVIDER": "openai"}, ErrCodeMissingAuth},
		{"unknown provider", map[string]string{"SYNTHESIS_PROVIDER": "midjourney"}, ErrCodeInvalidValue},
		{"zero retries", map[string]string{"MAX_RETRIES": "0"}, ErrCodeInvalidValue},
		{"bad port", map[string]string{"PORT": "70000"}, ErrCodeInvalidValue},
		{"bad image size", map[string]string{"MAX_IMAGE_SIZE": "lots"}, ErrCodeInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil {
				t.Fatal("LoadConfig() expected error")
			}
			if got := GetErrorCode(err); got != tt.code {
				t.Errorf("GetErrorCode() = %q, want %q (err: %v)", got, tt.code, err)
			}
			if ExitCodeFor(err) != ExitCodeConfig {
				t.Errorf("ExitCodeFor() = %d, want %d", ExitCodeFor(err), ExitCodeConfig)
			}
		})
	}
}

func TestGetHTTPClient(t *testing.T) {
	client := GetHTTPClient(&Config{}, 5*time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}
	if client.Transport != nil {
		t.Error("default client should use the default transport")
	}
	if GetHTTPClient(&Config{AllowSelfSignedCerts: true}, time.Second).Transport == nil {
		t.Error("self-signed client needs a custom transport")
	}
}

func TestConfigError(t *testing.T) {
	err := ErrMissingAuth("runware")
	if err.Error() != "Missing authentication credentials for runware. Set RUNWARE_API_KEY in your .env file" {
		t.Errorf("Error() = %q", err.Error())
	}
	wrapped := errors.Join(errors.New("startup"), ErrCatalog("c.yaml", errors.New("bad yaml")))
	if GetErrorCode(wrapped) != ErrCodeCatalogFailed {
		t.Errorf("GetErrorCode(wrapped) = %q", GetErrorCode(wrapped))
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("plain error should have no code")
	}
	if ExitCodeFor(errors.New("plain")) != ExitCodeError || ExitCodeFor(nil) != ExitCodeSuccess {
		t.Error("ExitCodeFor mapping")
	}
}
