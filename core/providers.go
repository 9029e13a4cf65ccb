package core

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the provider catalog.
const (
	ProviderKindOpenAI = "openai"
	ProviderKindAzure  = "azure"
	ProviderKindHTTP   = "http"
)

// ProviderSpec describes one image generation backend in the provider catalog.
type ProviderSpec struct {
	ID         string  `yaml:"id"`
	Kind       string  `yaml:"kind"`
	Model      string  `yaml:"model,omitempty"`
	Size       string  `yaml:"size,omitempty"`
	Quality    string  `yaml:"quality,omitempty"`
	Endpoint   string  `yaml:"endpoint,omitempty"`    // http kind, or Azure endpoint override
	Deployment string  `yaml:"deployment,omitempty"`  // azure kind
	APIKeyEnv  string  `yaml:"api_key_env,omitempty"` // env var holding the key for http kind
	RateLimit  float64 `yaml:"rate_limit,omitempty"`  // requests per second, 0 = unlimited
	Burst      int     `yaml:"burst,omitempty"`
	TimeoutSec int     `yaml:"timeout_seconds,omitempty"`
	Disabled   bool    `yaml:"disabled,omitempty"`
}

// ProviderCatalog is the set of provider identifiers a request may name.
type ProviderCatalog struct {
	Providers []ProviderSpec `yaml:"providers"`
}

// LoadProviderCatalog reads the YAML catalog at path. A missing file yields
// the catalog implied by the configured credentials (see DefaultProviderCatalog).
func LoadProviderCatalog(path string, cfg *Config) (*ProviderCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultProviderCatalog(cfg), nil
		}
		return nil, ErrProviderCatalog(path, err.Error())
	}
	return ParseProviderCatalog(path, data)
}

// ParseProviderCatalog decodes and validates catalog YAML. Disabled entries
// are dropped.
func ParseProviderCatalog(path string, data []byte) (*ProviderCatalog, error) {
	var raw ProviderCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ErrProviderCatalog(path, err.Error())
	}

	catalog := &ProviderCatalog{}
	seen := make(map[string]bool, len(raw.Providers))
	for i, p := range raw.Providers {
		p.ID = strings.TrimSpace(p.ID)
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.ID == "" {
			return nil, ErrProviderCatalog(path, fmt.Sprintf("entry %d has no id", i))
		}
		if seen[p.ID] {
			return nil, ErrProviderCatalog(path, fmt.Sprintf("duplicate id %q", p.ID))
		}
		seen[p.ID] = true

		switch p.Kind {
		case ProviderKindOpenAI, ProviderKindAzure:
		case ProviderKindHTTP:
			if p.Endpoint == "" {
				return nil, ErrProviderCatalog(path, fmt.Sprintf("provider %q of kind http needs an endpoint", p.ID))
			}
		default:
			return nil, ErrProviderCatalog(path, fmt.Sprintf("provider %q has unsupported kind %q", p.ID, p.Kind))
		}
		if p.RateLimit < 0 {
			return nil, ErrProviderCatalog(path, fmt.Sprintf("provider %q has negative rate_limit", p.ID))
		}
		if p.Disabled {
			continue
		}
		catalog.Providers = append(catalog.Providers, p)
	}
	return catalog, nil
}

// DefaultProviderCatalog builds a catalog from whichever credentials are set.
func DefaultProviderCatalog(cfg *Config) *ProviderCatalog {
	catalog := &ProviderCatalog{}
	if cfg == nil {
		return catalog
	}
	if cfg.HasOpenAI() {
		catalog.Providers = append(catalog.Providers,
			ProviderSpec{ID: "dalle3", Kind: ProviderKindOpenAI, Model: "dall-e-3", Size: "1024x1024"},
			ProviderSpec{ID: "dalle2", Kind: ProviderKindOpenAI, Model: "dall-e-2", Size: "1024x1024"},
		)
	}
	if cfg.HasAzure() {
		catalog.Providers = append(catalog.Providers,
			ProviderSpec{ID: "azure-dalle3", Kind: ProviderKindAzure, Model: "dall-e-3", Deployment: "dall-e-3", Size: "1024x1024"},
		)
	}
	return catalog
}

// IDs returns the provider identifiers in catalog order.
func (c *ProviderCatalog) IDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		ids = append(ids, p.ID)
	}
	return ids
}

// Lookup returns the ProviderSpec for id.
func (c *ProviderCatalog) Lookup(id string) (ProviderSpec, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderSpec{}, false
}
