// Package generation is the orchestrator organism of the backend.
//
// Generate validates a request, submits it to the queue and converts every
// outcome into a Response. Inside the queue task the prompt is built, the
// providers are invoked with the task context and successful results are
// persisted through the ResultProcessor.
package generation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gen_backend/imagegen"
	"gen_backend/logging"
	"gen_backend/prompt"
	"gen_backend/queue"
)

// Config controls orchestration.
type Config struct {
	// MultiProvider fans out to every requested provider instead of one.
	MultiProvider   bool
	DefaultGuidance int
	// DefaultTimeout is passed to the queue when a request carries none.
	// Zero leaves the choice to the queue.
	DefaultTimeout time.Duration
	// Debug adds internal error detail to failed responses and to each
	// failed result.
	Debug bool
	// TempDir holds scratch files named <request id> or <request id>.<ext>.
	// They are removed when a request fails.
	TempDir string
}

// TaskQueue is the part of queue.Queue the orchestrator needs.
type TaskQueue interface {
	AddAsync(ctx context.Context, fn queue.TaskFunc, opts queue.Options) (*queue.Handle, error)
}

// ProviderResolver maps provider names to providers.
type ProviderResolver interface {
	Resolve(names []string) ([]imagegen.Provider, error)
	Has(name string) bool
}

// ProviderInvoker calls the resolved providers.
type ProviderInvoker interface {
	Invoke(ctx context.Context, multi bool, candidates []imagegen.Provider, in imagegen.Input) ([]*imagegen.Result, error)
}

// Orchestrator runs generation requests end to end.
type Orchestrator struct {
	cfg       Config
	queue     TaskQueue
	providers ProviderResolver
	invoker   ProviderInvoker
	prompts   prompt.Processor
	results   *ResultProcessor
	validate  *validator.Validate
	logger    *logging.Logger

	mu     sync.Mutex
	active map[string]*queue.Handle
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(cfg Config, q TaskQueue, providers ProviderResolver, invoker ProviderInvoker,
	prompts prompt.Processor, results *ResultProcessor, logger *logging.Logger) *Orchestrator {
	if cfg.DefaultGuidance <= 0 {
		cfg.DefaultGuidance = 10
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		queue:     q,
		providers: providers,
		invoker:   invoker,
		prompts:   prompts,
		results:   results,
		validate:  newValidator(providers),
		logger:    logger.Named("generation"),
		active:    make(map[string]*queue.Handle),
	}
}

func newValidator(providers ProviderResolver) *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("known_provider", func(fl validator.FieldLevel) bool {
		return providers.Has(fl.Field().String())
	})
	return v
}

// Generate runs req and blocks until it settles or ctx is cancelled. The
// returned Response always describes the outcome; it never panics and
// never needs a separate error.
func (o *Orchestrator) Generate(ctx context.Context, req Request) Response {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Guidance == 0 {
		req.Guidance = o.cfg.DefaultGuidance
	}
	log := o.logger.With(logging.RequestID(req.RequestID), logging.UserID(optionalString(req.UserID)))

	if err := o.check(req); err != nil {
		return o.failure(log, req, start, err)
	}
	if !o.reserve(req.RequestID) {
		return o.failure(log, req, start, &ValidationError{Field: "requestId", Reason: "a request with this id is already in progress"})
	}
	defer o.release(req.RequestID)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	opts := queue.Options{
		UserID:   req.UserID,
		Priority: queue.ParsePriority(req.Priority),
		Timeout:  timeout,
	}

	h, err := o.queue.AddAsync(ctx, func(tctx context.Context) (interface{}, error) {
		return o.execute(tctx, req)
	}, opts)
	if err != nil {
		return o.failure(log, req, start, err)
	}
	o.track(req.RequestID, h)
	log.Debug("request queued", logging.TaskID(h.ID()), logging.Priority(string(opts.Priority)))

	v, err := h.Wait(ctx)
	if err != nil {
		return o.failure(log.With(logging.TaskID(h.ID())), req, start, err)
	}
	results, _ := v.([]ProcessedResult)
	if o.cfg.Debug {
		for i := range results {
			if results[i].err != nil {
				results[i].Debug = results[i].err.Error()
			}
		}
	}

	log.Info("request completed",
		zap.Int("results", len(results)),
		zap.Int("persisted", countPersisted(results)),
		logging.Elapsed(start))
	return Response{
		Success:    true,
		RequestID:  req.RequestID,
		Results:    results,
		DurationMS: time.Since(start).Milliseconds(),
	}
}

// Cancel cancels the in-flight request with the given id. It reports
// whether a request was found and cancelled.
func (o *Orchestrator) Cancel(requestID string) bool {
	o.mu.Lock()
	h := o.active[requestID]
	o.mu.Unlock()
	if h == nil {
		return false
	}
	return h.Cancel()
}

// execute is the queue task body. ctx is the task context.
func (o *Orchestrator) execute(ctx context.Context, req Request) ([]ProcessedResult, error) {
	out, err := o.run(ctx, req)
	if err != nil {
		o.cleanupTemp(req.RequestID)
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) ([]ProcessedResult, error) {
	if err := o.check(req); err != nil {
		return nil, err
	}
	built, err := o.prompts.Build(req.Prompt, req.Options.Options)
	if err != nil {
		return nil, promptError(err)
	}
	candidates, err := o.providers.Resolve(req.Providers)
	if err != nil {
		return nil, &ValidationError{Field: "providers", Reason: err.Error()}
	}

	results, err := o.invoker.Invoke(ctx, o.cfg.MultiProvider, candidates, imagegen.Input{
		Prompt:   built.Prompt,
		Guidance: req.Guidance,
		UserID:   req.UserID,
	})
	if err != nil {
		return nil, err
	}

	return o.results.ProcessAll(ctx, results, ResultContext{
		Prompt:     built.Prompt,
		Original:   built.Original,
		PromptID:   uuid.NewString(),
		RequestID:  req.RequestID,
		UserID:     optionalString(req.UserID),
		AutoPublic: req.Options.AutoPublic,
	})
}

// check validates req against its struct tags.
func (o *Orchestrator) check(req Request) error {
	err := o.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}
	fe := verrs[0]
	return &ValidationError{Field: fieldPath(fe), Reason: reasonFor(fe)}
}

// fieldPath drops the struct name from the namespace: Request.providers[0]
// becomes providers[0].
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "notblank":
		return "must not be blank"
	case "known_provider":
		return "unknown provider " + strings.TrimSpace(fe.Value().(string))
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "printascii":
		return "must contain printable ASCII only"
	case "excludesall":
		return "must not contain any of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func promptError(err error) error {
	switch {
	case errors.Is(err, prompt.ErrUnknownHelper):
		return &ValidationError{Field: "options.promptHelpers", Reason: err.Error()}
	case errors.Is(err, prompt.ErrInvalidVariables):
		return &ValidationError{Field: "options.customVariables", Reason: err.Error()}
	case errors.Is(err, prompt.ErrInvalidPrompt):
		return &ValidationError{Field: "prompt", Reason: err.Error()}
	default:
		return err
	}
}

// failure converts err into a failed Response and logs it.
func (o *Orchestrator) failure(log *logging.Logger, req Request, start time.Time, err error) Response {
	code, message, retryAfter := classify(err)
	fields := []zap.Field{
		zap.String("code", code),
		zap.Strings("providers", req.Providers),
		logging.Elapsed(start),
		zap.Error(err),
	}
	switch code {
	case CodeValidation, CodeCancelled:
		log.Info("request rejected", fields...)
	case CodeInternal, CodePersistence:
		log.Error("request failed", fields...)
	default:
		log.Warn("request failed", fields...)
	}

	resp := Response{
		Success:      false,
		RequestID:    req.RequestID,
		DurationMS:   time.Since(start).Milliseconds(),
		Error:        message,
		Code:         code,
		RetryAfterMS: retryAfter.Milliseconds(),
	}
	if o.cfg.Debug {
		resp.Debug = err.Error()
	}
	return resp
}

// cleanupTemp removes the scratch files owned by requestID. Names are
// compared literally, never expanded as patterns.
func (o *Orchestrator) cleanupTemp(requestID string) {
	if o.cfg.TempDir == "" || requestID == "" {
		return
	}
	entries, err := os.ReadDir(o.cfg.TempDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !ownsScratch(e.Name(), requestID) {
			continue
		}
		m := filepath.Join(o.cfg.TempDir, e.Name())
		if err := os.RemoveAll(m); err != nil {
			o.logger.Warn("temp cleanup failed", logging.RequestID(requestID), zap.String("path", m), zap.Error(err))
		}
	}
}

func ownsScratch(name, requestID string) bool {
	return name == requestID || strings.HasPrefix(name, requestID+".")
}

func (o *Orchestrator) reserve(requestID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[requestID]; ok {
		return false
	}
	o.active[requestID] = nil
	return true
}

func (o *Orchestrator) track(requestID string, h *queue.Handle) {
	o.mu.Lock()
	o.active[requestID] = h
	o.mu.Unlock()
}

func (o *Orchestrator) release(requestID string) {
	o.mu.Lock()
	delete(o.active, requestID)
	o.mu.Unlock()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func countPersisted(results []ProcessedResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}
