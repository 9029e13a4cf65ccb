package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gen_backend/core"
)

// Pinger is implemented by dependencies that can report liveness, such as
// the database wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConfigCheck re-validates the loaded configuration.
func ConfigCheck(cfg *core.Config) CheckFunc {
	return func(ctx context.Context) (string, error) {
		if err := core.ValidateConfig(cfg); err != nil {
			return "", err
		}
		return fmt.Sprintf("storage=%s, max concurrent=%d", cfg.StorageBackend, cfg.QueueMaxConcurrent), nil
	}
}

// ProviderCatalogCheck fails when the catalog names no providers.
func ProviderCatalogCheck(catalog *core.ProviderCatalog) CheckFunc {
	return func(ctx context.Context) (string, error) {
		if catalog == nil || len(catalog.Providers) == 0 {
			return "", core.ErrProviderCatalog("catalog", "no providers configured; set OPENAI_API_KEY or PROVIDERS_FILE")
		}
		return fmt.Sprintf("%d providers: %v", len(catalog.Providers), catalog.IDs()), nil
	}
}

// WritableDirCheck creates dir if needed and verifies a file can be written.
func WritableDirCheck(dir string) CheckFunc {
	return func(ctx context.Context) (string, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dir, err)
		}
		probe, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return "", fmt.Errorf("%s is not writable: %w", dir, err)
		}
		name := probe.Name()
		probe.Close()
		os.Remove(name)

		abs, _ := filepath.Abs(dir)
		return abs, nil
	}
}

// DiskSpaceCheck fails when fewer than minFree bytes are available at path.
func DiskSpaceCheck(path string, minFree int64) CheckFunc {
	return func(ctx context.Context) (string, error) {
		if err := CheckDiskSpace(path, minFree); err != nil {
			return "", err
		}
		free, err := FreeBytes(path)
		if err != nil {
			return "", err
		}
		return formatBytes(free) + " free", nil
	}
}

// PingCheck verifies a dependency answers Ping within the step timeout.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) (string, error) {
		if err := p.Ping(ctx); err != nil {
			return "", err
		}
		return "reachable", nil
	}
}
