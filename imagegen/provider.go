// Package imagegen invokes external image generation providers.
//
// The package is organised the way the rest of the backend is:
//   - atoms.go: pure helpers (endpoint checks, payload decoding, format sniffing)
//   - provider molecules: OpenAIProvider, AzureProvider, HTTPProvider
//   - limits.go: per-provider rate limiting and call timeouts
//   - Registry: the providers a request may name, built from the catalog
//   - Invoker organism: single random provider or concurrent fan-out
//
// Every provider returns its image as a base64 payload in Result.Data.
// Persisting that payload is the caller's job.
package imagegen

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors returned by the invoker and registry.
var (
	// ErrAllProvidersFailed is returned by InvokeAll when no candidate succeeded.
	ErrAllProvidersFailed = errors.New("imagegen: all providers failed")

	// ErrNoProviders is returned when an invocation is given no candidates.
	ErrNoProviders = errors.New("imagegen: no candidate providers")

	// ErrUnknownProvider is returned when a request names a provider that is
	// not registered.
	ErrUnknownProvider = errors.New("imagegen: unknown provider")

	// ErrEmptyPayload is returned when a provider reports success without
	// image data.
	ErrEmptyPayload = errors.New("imagegen: provider returned no image data")
)

// Input is the processed request handed to every provider.
type Input struct {
	Prompt   string
	Guidance int
	UserID   string
}

// Result is the outcome of one provider attempt. It is not modified after
// the invoker returns it.
type Result struct {
	Provider string `json:"provider"`
	Success  bool   `json:"success"`
	Data     string `json:"-"` // base64 image payload
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
	Guidance int    `json:"guidance"`
	Model    string `json:"model,omitempty"`
}

// Provider generates one image per call. Implementations must honour ctx
// cancellation on every network call they make.
type Provider interface {
	// Name is the identifier requests use to select this provider.
	Name() string

	// Generate returns a successful Result carrying a base64 payload, or an
	// error.
	Generate(ctx context.Context, in Input) (*Result, error)
}

// ProviderError attributes a failure to a provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("imagegen: provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func succeeded(provider, model string, guidance int, data string) *Result {
	return &Result{
		Provider: provider,
		Success:  true,
		Data:     data,
		Guidance: guidance,
		Model:    model,
	}
}

func failed(provider string, guidance int, err error) *Result {
	var perr *ProviderError
	if !errors.As(err, &perr) {
		err = &ProviderError{Provider: provider, Err: err}
	}
	return &Result{
		Provider: provider,
		Success:  false,
		Error:    err.Error(),
		Err:      err,
		Guidance: guidance,
	}
}

// CountSucceeded returns how many results carry an image.
func CountSucceeded(results []*Result) int {
	n := 0
	for _, r := range results {
		if r != nil && r.Success {
			n++
		}
	}
	return n
}
