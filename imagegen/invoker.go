package imagegen

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gen_backend/logging"
)

// Observer receives one call per provider attempt. The metrics package
// implements it.
type Observer interface {
	ObserveProvider(provider string, success bool, elapsed time.Duration)
}

// Invoker calls providers in single or fan-out mode.
//
// Thread Safety: Invoker is safe for concurrent use.
type Invoker struct {
	logger   *logging.Logger
	observer Observer

	mu  sync.Mutex
	rng *rand.Rand
}

// NewInvoker creates an Invoker. observer may be nil.
func NewInvoker(logger *logging.Logger, observer Observer) *Invoker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Invoker{
		logger:   logger.Named("invoker"),
		observer: observer,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand replaces the source used to pick a provider in single mode.
func (inv *Invoker) WithRand(r *rand.Rand) *Invoker {
	inv.mu.Lock()
	inv.rng = r
	inv.mu.Unlock()
	return inv
}

// Invoke dispatches to InvokeAll when multi is set and InvokeOne otherwise.
// In both modes the returned slice holds every attempted result.
func (inv *Invoker) Invoke(ctx context.Context, multi bool, candidates []Provider, in Input) ([]*Result, error) {
	if multi {
		return inv.InvokeAll(ctx, candidates, in)
	}
	res, err := inv.InvokeOne(ctx, candidates, in)
	if res == nil {
		return nil, err
	}
	return []*Result{res}, err
}

// InvokeOne picks one candidate uniformly at random and calls it. A failure
// is returned as the result's *ProviderError.
func (inv *Invoker) InvokeOne(ctx context.Context, candidates []Provider, in Input) (*Result, error) {
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	inv.mu.Lock()
	p := candidates[inv.rng.Intn(len(candidates))]
	inv.mu.Unlock()

	res := inv.call(ctx, p, in)
	if !res.Success {
		return res, res.Err
	}
	return res, nil
}

// InvokeAll calls every candidate concurrently. A failing provider does not
// cancel the others. Results are returned in candidate order. When no
// candidate succeeded the error wraps ErrAllProvidersFailed and every
// individual failure; the results are still returned.
func (inv *Invoker) InvokeAll(ctx context.Context, candidates []Provider, in Input) ([]*Result, error) {
	if len(candidates) == 0 {
		return nil, ErrNoProviders
	}

	results := make([]*Result, len(candidates))
	var g errgroup.Group
	for i, p := range candidates {
		g.Go(func() error {
			results[i] = inv.call(ctx, p, in)
			return nil
		})
	}
	g.Wait()

	if CountSucceeded(results) > 0 {
		return results, nil
	}
	errs := make([]error, 0, len(results))
	for _, r := range results {
		errs = append(errs, r.Err)
	}
	return results, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
}

// call runs one provider attempt and always returns a non-nil Result.
// Nothing is started once ctx has fired, and an answer that arrives after
// ctx fired is discarded.
func (inv *Invoker) call(ctx context.Context, p Provider, in Input) *Result {
	name := p.Name()
	if ctx.Err() != nil {
		return failed(name, in.Guidance, context.Cause(ctx))
	}

	start := time.Now()
	res, err := safeGenerate(ctx, p, in)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		res, err = nil, context.Cause(ctx)
	}
	if err == nil && (res == nil || !res.Success || res.Data == "") {
		err = ErrEmptyPayload
	}

	var out *Result
	if err != nil {
		out = failed(name, in.Guidance, err)
		inv.logger.Warn("provider failed",
			logging.Provider(name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		out = succeeded(name, res.Model, in.Guidance, res.Data)
		inv.logger.Debug("provider succeeded",
			logging.Provider(name),
			zap.String("model", res.Model),
			zap.Duration("elapsed", elapsed))
	}

	if inv.observer != nil {
		inv.observer.ObserveProvider(name, out.Success, elapsed)
	}
	return out
}

// safeGenerate converts a provider panic into an error.
func safeGenerate(ctx context.Context, p Provider, in Input) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("imagegen: provider panicked: %v", r)
		}
	}()
	return p.Generate(ctx, in)
}
