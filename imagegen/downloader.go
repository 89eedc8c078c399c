package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"bgstudio/core"
)

// ErrImageTooLarge is returned when a download exceeds the size cap.
var ErrImageTooLarge = errors.New("imagegen: image exceeds size limit")

// DefaultMaxImageBytes caps downloads when no limit is configured.
const DefaultMaxImageBytes = 20 * core.BytesPerMB

// TempFilePrefix marks files still being written by Download.
const TempFilePrefix = "temp_"

// Downloader fetches images from provider result URLs.
//
// Provider URLs are temporary, so finished images are copied into the
// downloads directory for archiving, and the complexity analyzer reads
// uploads through DownloadBytes.
//
// Thread Safety: Downloader is safe for concurrent use.
type Downloader struct {
	client       *http.Client
	downloadsDir string
	maxBytes     int64
}

// DownloaderConfig holds configuration for the Downloader.
type DownloaderConfig struct {
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// DownloadsDir is where Download writes files. Default: "downloads".
	DownloadsDir string

	// MaxBytes caps every download. Default: DefaultMaxImageBytes.
	MaxBytes int64
}

// NewDownloader creates a downloader from the service configuration.
func NewDownloader(cfg *core.Config) (*Downloader, error) {
	if cfg == nil {
		return nil, fmt.Errorf("imagegen: config cannot be nil")
	}
	return NewDownloaderWithConfig(DownloaderConfig{
		HTTPClient:   core.GetHTTPClient(cfg, cfg.AITimeout),
		DownloadsDir: cfg.DownloadsDir,
		MaxBytes:     cfg.MaxImageBytes,
	})
}

// NewDownloaderWithConfig creates a downloader with explicit configuration.
func NewDownloaderWithConfig(cfg DownloaderConfig) (*Downloader, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	dir := cfg.DownloadsDir
	if dir == "" {
		dir = "downloads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagegen: failed to create downloads directory: %w", err)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Downloader{client: client, downloadsDir: dir, maxBytes: maxBytes}, nil
}

// DownloadResult describes a downloaded image.
type DownloadResult struct {
	Path        string
	Size        int64
	ContentType string
}

// Download saves the image at url into the downloads directory as
// filename plus an extension derived from the Content-Type.
//
// The caller owns the file; shutdown cleanup removes leftovers.
// The body is written to a TempFilePrefix file first and renamed once
// complete, so a half-written image is never visible under filename.
//
// Example:
//
//	res, err := d.Download(ctx, finalURL, "wf-1234_final")
//	// res.Path == "downloads/wf-1234_final.png"
func (d *Downloader) Download(ctx context.Context, url, filename string) (*DownloadResult, error) {
	if filename == "" {
		return nil, fmt.Errorf("imagegen: filename cannot be empty")
	}
	data, contentType, err := d.DownloadBytes(ctx, url)
	if err != nil {
		return nil, err
	}

	ext := extensionFromContentType(contentType)
	if ext == "" {
		ext = ".png"
	}
	name := sanitizeFilename(filename) + ext
	fullPath := filepath.Join(d.downloadsDir, name)

	// Readers never see a partial file. Leftover temp files are removed by
	// shutdown.CleanupDownloads.
	tmpPath := filepath.Join(d.downloadsDir, TempFilePrefix+name)
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("imagegen: failed to write image data: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("imagegen: failed to move image into place: %w", err)
	}
	return &DownloadResult{Path: fullPath, Size: int64(len(data)), ContentType: contentType}, nil
}

// DownloadBytes returns the image data and its Content-Type. Bodies larger
// than the configured cap fail with ErrImageTooLarge.
func (d *Downloader) DownloadBytes(ctx context.Context, url string) ([]byte, string, error) {
	if url == "" {
		return nil, "", fmt.Errorf("imagegen: URL cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("imagegen: download failed with status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, "", fmt.Errorf("%w: %s > %s", ErrImageTooLarge,
			core.FormatBytes(resp.ContentLength), core.FormatBytes(d.maxBytes))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %s", ErrImageTooLarge, core.FormatBytes(d.maxBytes))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// DownloadsDir returns the configured downloads directory.
func (d *Downloader) DownloadsDir() string {
	return d.downloadsDir
}

// MaxBytes returns the download size cap.
func (d *Downloader) MaxBytes() int64 {
	return d.maxBytes
}

func extensionFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	if idx := strings.Index(lower, ";"); idx != -1 {
		lower = lower[:idx]
	}
	switch strings.TrimSpace(lower) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "":
		return ""
	default:
		if strings.HasPrefix(lower, "image/") {
			return ".png"
		}
		return ""
	}
}

// sanitizeFilename replaces path separators and other unsafe characters.
func sanitizeFilename(filename string) string {
	unsafe := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", "\n", "\r", "\t"}
	result := filename
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}
	if len(result) > 200 {
		result = result[:200]
	}
	if result == "" || result == "." || result == ".." {
		result = "image"
	}
	return result
}
