package imagegen

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// limitedProvider wraps a Provider with a token bucket and a per-call
// timeout. Waiting for a token honours ctx, so a cancelled task never
// reaches the provider.
type limitedProvider struct {
	Provider
	limiter *rate.Limiter
	timeout time.Duration
}

// WithLimits wraps p. A non-positive rps disables rate limiting and a
// non-positive timeout leaves the caller's deadline in charge. When both are
// disabled p is returned unchanged.
func WithLimits(p Provider, rps float64, burst int, timeout time.Duration) Provider {
	if rps <= 0 && timeout <= 0 {
		return p
	}
	lp := &limitedProvider{Provider: p, timeout: timeout}
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		lp.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return lp
}

func (p *limitedProvider) Generate(ctx context.Context, in Input) (*Result, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("imagegen: %s rate limit wait: %w", p.Name(), err)
		}
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.Provider.Generate(ctx, in)
}
