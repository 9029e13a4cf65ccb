package imagegen

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"gen_backend/core"
	"gen_backend/logging"
)

// Registry holds the providers a request may name.
//
// Thread Safety: Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under p.Name(). Names must be unique.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("imagegen: cannot register nil provider")
	}
	name := p.Name()
	if name == "" {
		return fmt.Errorf("imagegen: provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("imagegen: provider %q already registered", name)
	}
	r.providers[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the provider registered as name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Resolve maps names to providers, preserving order. Any unknown name fails
// the whole lookup with ErrUnknownProvider.
func (r *Registry) Resolve(names []string) ([]Provider, error) {
	if len(names) == 0 {
		return nil, ErrNoProviders
	}
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		p, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
		}
		out = append(out, p)
	}
	return out, nil
}

// BuildRegistry constructs a provider for every catalog entry, wrapped with
// its rate limit and timeout. Entries whose credentials are missing are
// skipped with a warning so one misconfigured provider does not stop the
// rest from serving.
func BuildRegistry(catalog *core.ProviderCatalog, cfg *core.Config, logger *logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	log := logger.Named("providers")
	reg := NewRegistry()
	if catalog == nil {
		return reg, nil
	}

	for _, spec := range catalog.Providers {
		timeout := cfg.ProviderTimeout
		if spec.TimeoutSec > 0 {
			timeout = time.Duration(spec.TimeoutSec) * time.Second
		}

		p, err := NewProviderFromSpec(spec, cfg, core.GetHTTPClient(cfg, timeout))
		if err != nil {
			log.Warn("skipping provider",
				logging.Provider(spec.ID),
				zap.String("kind", spec.Kind),
				zap.Error(err))
			continue
		}
		if err := reg.Register(WithLimits(p, spec.RateLimit, spec.Burst, timeout)); err != nil {
			return nil, err
		}
		log.Info("provider registered",
			logging.Provider(spec.ID),
			zap.String("kind", spec.Kind),
			zap.Float64("rate_limit", spec.RateLimit),
			zap.Duration("timeout", timeout))
	}
	return reg, nil
}

// NewProviderFromSpec builds the provider molecule for one catalog entry.
func NewProviderFromSpec(spec core.ProviderSpec, cfg *core.Config, client *http.Client) (Provider, error) {
	switch spec.Kind {
	case core.ProviderKindOpenAI:
		if !cfg.HasOpenAI() {
			return nil, core.ErrMissingAuth("openai")
		}
		baseURL := spec.Endpoint
		if baseURL == "" {
			baseURL = cfg.OpenAIBaseURL
		}
		return NewOpenAIProvider(OpenAIProviderConfig{
			Name:       spec.ID,
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    baseURL,
			Model:      spec.Model,
			Size:       spec.Size,
			Quality:    spec.Quality,
			HTTPClient: client,
		})

	case core.ProviderKindAzure:
		endpoint := spec.Endpoint
		if endpoint == "" {
			endpoint = cfg.AzureOpenAIEndpoint
		}
		if cfg.AzureOpenAIKey == "" || endpoint == "" {
			return nil, core.ErrMissingAuth("azure")
		}
		deployment := spec.Deployment
		if deployment == "" {
			deployment = spec.Model
		}
		return NewAzureProvider(AzureProviderConfig{
			Name:       spec.ID,
			APIKey:     cfg.AzureOpenAIKey,
			Endpoint:   endpoint,
			Deployment: deployment,
			APIVersion: cfg.AzureOpenAIApiVersion,
			Size:       spec.Size,
			Quality:    spec.Quality,
			HTTPClient: client,
		})

	case core.ProviderKindHTTP:
		var apiKey string
		if spec.APIKeyEnv != "" {
			apiKey = os.Getenv(spec.APIKeyEnv)
		}
		return NewHTTPProvider(HTTPProviderConfig{
			Name:       spec.ID,
			Endpoint:   spec.Endpoint,
			Model:      spec.Model,
			APIKey:     apiKey,
			HTTPClient: client,
		})

	default:
		return nil, fmt.Errorf("imagegen: unsupported provider kind %q", spec.Kind)
	}
}
