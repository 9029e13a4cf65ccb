package imagegen

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider for OpenAI image generation.
//
// This molecule handles:
//   - OpenAI client configuration with the shared HTTP transport
//   - Model selection (DALL-E 2, DALL-E 3, gpt-image-1)
//   - Inline base64 responses, falling back to downloading a URL response
//
// Thread Safety: OpenAIProvider is safe for concurrent use.
type OpenAIProvider struct {
	name       string
	client     *openai.Client
	model      string
	size       string
	quality    string
	downloader *Downloader
}

// OpenAIProviderConfig holds configuration specific to the OpenAI provider.
type OpenAIProviderConfig struct {
	// Name is the provider identifier (default: the model name).
	Name string

	// APIKey is the OpenAI API key (required).
	APIKey string

	// BaseURL is the API endpoint (default: https://api.openai.com/v1).
	BaseURL string

	// Model is the image model to use (default: dall-e-3).
	Model string

	// Size and Quality are passed through when set.
	Size    string
	Quality string

	// HTTPClient is used for API calls and URL downloads (optional).
	HTTPClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI image generation provider.
//
// Returns an error if the API key is empty.
//
// Example:
//
//	provider, err := NewOpenAIProvider(OpenAIProviderConfig{APIKey: key, Model: "dall-e-3"})
//	res, err := provider.Generate(ctx, Input{Prompt: "a sunset over mountains", Guidance: 10})
func NewOpenAIProvider(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: OpenAI API key is required for image generation")
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	name := cfg.Name
	if name == "" {
		name = model
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = endpoint
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		name:       name,
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		size:       cfg.Size,
		quality:    cfg.Quality,
		downloader: NewDownloader(DownloaderConfig{HTTPClient: cfg.HTTPClient}),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the configured image model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Generate creates an image from in.Prompt. Guidance is echoed in the
// result; OpenAI models have no equivalent parameter.
func (p *OpenAIProvider) Generate(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, fmt.Errorf("imagegen: prompt cannot be empty")
	}

	req := buildImageRequest(p.model, p.size, p.quality, in)
	response, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: OpenAI image generation failed: %w", err)
	}

	data, err := payloadFromResponse(ctx, response, p.downloader, "OpenAI")
	if err != nil {
		return nil, err
	}
	return succeeded(p.name, p.model, in.Guidance, data), nil
}

// buildImageRequest maps an Input onto an image request for model.
func buildImageRequest(model, size, quality string, in Input) openai.ImageRequest {
	req := openai.ImageRequest{
		Prompt:  in.Prompt,
		Model:   model,
		N:       1,
		Size:    size,
		Quality: quality,
		User:    in.UserID,
	}
	// gpt-image-1 always answers inline and rejects these parameters.
	if isDalleModel(model) {
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
		if model != openai.CreateImageModelDallE2 {
			req.Style = openai.CreateImageStyleVivid
		}
	}
	return req
}

// payloadFromResponse extracts the base64 payload of the first image,
// downloading it when the service answered with a URL.
func payloadFromResponse(ctx context.Context, response openai.ImageResponse, d *Downloader, service string) (string, error) {
	if len(response.Data) == 0 {
		return "", fmt.Errorf("imagegen: %s returned empty Data array", service)
	}
	first := response.Data[0]
	if first.B64JSON != "" {
		return first.B64JSON, nil
	}
	if first.URL != "" {
		return d.DownloadBase64(ctx, first.URL)
	}
	return "", fmt.Errorf("imagegen: %s: %w", service, ErrEmptyPayload)
}

// Ensure OpenAIProvider implements Provider interface at compile time.
var _ Provider = (*OpenAIProvider)(nil)
