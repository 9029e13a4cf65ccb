package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxImageBytes caps a single downloaded image.
const DefaultMaxImageBytes = 32 << 20

// Downloader fetches images that a provider returned by URL instead of
// inline. Provider URLs are temporary, so the bytes are fetched within the
// same task context as the generation call.
//
// Thread Safety: Downloader is safe for concurrent use.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

// DownloaderConfig holds configuration for the Downloader.
type DownloaderConfig struct {
	// HTTPClient is the HTTP client for downloads (optional).
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil. Default: 60 seconds.
	Timeout time.Duration

	// MaxBytes rejects larger images. Default: DefaultMaxImageBytes.
	MaxBytes int64
}

// NewDownloader creates a Downloader with defaults filled in.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Downloader{client: client, maxBytes: maxBytes}
}

// DownloadBytes downloads an image and returns the raw bytes together with
// the Content-Type header value.
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

	contentType := resp.Header.Get("Content-Type")
	if ct := strings.ToLower(contentType); ct != "" && !strings.HasPrefix(ct, "image/") && !strings.HasPrefix(ct, "application/octet-stream") {
		return nil, "", fmt.Errorf("imagegen: download returned non-image content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("imagegen: failed to read image data: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, "", fmt.Errorf("imagegen: image exceeds %d bytes", d.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyPayload
	}

	return data, contentType, nil
}

// DownloadBase64 downloads an image and returns it base64 encoded, the form
// every provider Result carries.
func (d *Downloader) DownloadBase64(ctx context.Context, url string) (string, error) {
	data, _, err := d.DownloadBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
