package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider calls a self-hosted generation endpoint speaking a small JSON
// protocol:
//
//	POST {endpoint}
//	{"prompt": "...", "guidance": 10, "model": "flux", "user_id": "u1"}
//
// The response carries the image inline ("image" or "images[0]", base64) or
// by reference ("url"). Any non-2xx status is a failure.
type HTTPProvider struct {
	name       string
	endpoint   string
	model      string
	apiKey     string
	client     *http.Client
	downloader *Downloader
}

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	Name     string // required
	Endpoint string // required
	Model    string
	APIKey   string // sent as a bearer token when set

	HTTPClient *http.Client
}

type httpGenerateRequest struct {
	Prompt   string `json:"prompt"`
	Guidance int    `json:"guidance"`
	Model    string `json:"model,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

type httpGenerateResponse struct {
	Image  string   `json:"image"`
	Images []string `json:"images"`
	URL    string   `json:"url"`
	Model  string   `json:"model"`
	Error  string   `json:"error"`
}

// NewHTTPProvider validates cfg and creates the provider.
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("imagegen: http provider name is required")
	}
	if !strings.HasPrefix(cfg.Endpoint, "http://") && !strings.HasPrefix(cfg.Endpoint, "https://") {
		return nil, fmt.Errorf("imagegen: http provider %s needs an http(s) endpoint, got %q", cfg.Name, cfg.Endpoint)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &HTTPProvider{
		name:       cfg.Name,
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		client:     client,
		downloader: NewDownloader(DownloaderConfig{HTTPClient: client}),
	}, nil
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string { return p.name }

// Generate posts the prompt to the endpoint.
func (p *HTTPProvider) Generate(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, fmt.Errorf("imagegen: prompt cannot be empty")
	}

	body, err := json.Marshal(httpGenerateRequest{
		Prompt:   in.Prompt,
		Guidance: in.Guidance,
		Model:    p.model,
		UserID:   in.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("imagegen: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("imagegen: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: %s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, DefaultMaxImageBytes*2))
	if err != nil {
		return nil, fmt.Errorf("imagegen: %s read response: %w", p.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("imagegen: %s returned status %d: %s", p.name, resp.StatusCode, snippet(raw))
	}

	var out httpGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("imagegen: %s returned invalid JSON: %w", p.name, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("imagegen: %s: %s", p.name, out.Error)
	}

	model := out.Model
	if model == "" {
		model = p.model
	}

	data := out.Image
	if data == "" && len(out.Images) > 0 {
		data = out.Images[0]
	}
	if data == "" && out.URL != "" {
		data, err = p.downloader.DownloadBase64(ctx, out.URL)
		if err != nil {
			return nil, err
		}
	}
	if data == "" {
		return nil, fmt.Errorf("imagegen: %s: %w", p.name, ErrEmptyPayload)
	}
	return succeeded(p.name, model, in.Guidance, data), nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

var _ Provider = (*HTTPProvider)(nil)
