package imagegen

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

const defaultAzureAPIVersion = "2024-02-15-preview"

// AzureProvider implements Provider for Azure OpenAI image generation.
//
// Azure OpenAI differs from standard OpenAI in several ways:
//   - Uses deployment names instead of model names
//   - Requires Azure-specific endpoint configuration
//   - May have different parameter support based on deployment
//
// Thread Safety: AzureProvider is safe for concurrent use.
type AzureProvider struct {
	name       string
	client     *openai.Client
	deployment string
	size       string
	quality    string
	downloader *Downloader
}

// AzureProviderConfig holds configuration specific to the Azure provider.
type AzureProviderConfig struct {
	// Name is the provider identifier (default: the deployment name).
	Name string

	// APIKey is the Azure OpenAI API key (required).
	APIKey string

	// Endpoint is the Azure OpenAI endpoint URL (required).
	// Example: https://your-resource.openai.azure.com/
	Endpoint string

	// Deployment is the Azure deployment name (required).
	// Example: dalle3, gpt-image-1
	Deployment string

	// APIVersion is the Azure API version (default: 2024-02-15-preview).
	APIVersion string

	Size    string
	Quality string

	HTTPClient *http.Client
}

// NewAzureProvider creates a new Azure OpenAI image generation provider.
//
// Returns an error if:
//   - The API key is empty
//   - The endpoint is empty or not an Azure endpoint
//   - The deployment name is empty
func NewAzureProvider(cfg AzureProviderConfig) (*AzureProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("imagegen: Azure API key is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("imagegen: Azure endpoint is required; set AZURE_OPENAI_ENDPOINT")
	}
	if !IsAzureEndpoint(cfg.Endpoint) {
		return nil, fmt.Errorf("imagegen: endpoint (%s) is not an Azure OpenAI endpoint", cfg.Endpoint)
	}
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("imagegen: Azure deployment name is required")
	}

	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	clientConfig.APIVersion = cfg.APIVersion
	if clientConfig.APIVersion == "" {
		clientConfig.APIVersion = defaultAzureAPIVersion
	}
	deployment := cfg.Deployment
	clientConfig.AzureModelMapperFunc = func(string) string { return deployment }
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}

	name := cfg.Name
	if name == "" {
		name = deployment
	}

	return &AzureProvider{
		name:       name,
		client:     openai.NewClientWithConfig(clientConfig),
		deployment: deployment,
		size:       cfg.Size,
		quality:    cfg.Quality,
		downloader: NewDownloader(DownloaderConfig{HTTPClient: cfg.HTTPClient}),
	}, nil
}

// Name returns the provider identifier.
func (p *AzureProvider) Name() string { return p.name }

// Deployment returns the configured Azure deployment name.
func (p *AzureProvider) Deployment() string { return p.deployment }

// Generate creates an image from in.Prompt using the configured deployment.
func (p *AzureProvider) Generate(ctx context.Context, in Input) (*Result, error) {
	if in.Prompt == "" {
		return nil, fmt.Errorf("imagegen: prompt cannot be empty")
	}

	// Azure uses the deployment name as the model.
	req := buildImageRequest(p.deployment, p.size, p.quality, in)
	response, err := p.client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("imagegen: Azure image generation failed: %w", err)
	}

	data, err := payloadFromResponse(ctx, response, p.downloader, "Azure")
	if err != nil {
		return nil, err
	}
	return succeeded(p.name, p.deployment, in.Guidance, data), nil
}

// Ensure AzureProvider implements Provider interface at compile time.
var _ Provider = (*AzureProvider)(nil)
