// Package tagging labels stored images in the background.
//
// TagAsync never blocks and never reports failure to its caller: jobs go to
// a bounded queue drained by a fixed pool of workers. Each worker asks the
// Generator for tags, falls back to keywords from the prompt when that
// fails, and writes the result through the Store.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gen_backend/logging"
)

// ErrStopped is returned by Stop when called twice.
var ErrStopped = errors.New("tagging: tagger already stopped")

// Metadata accompanies a tagging job.
type Metadata struct {
	Provider  string
	Model     string
	RequestID string
	UserID    *string
	ImageURL  string
}

// Generator produces tags for a prompt.
type Generator interface {
	Tags(ctx context.Context, prompt string, meta Metadata) ([]string, error)
}

// Store persists tags for an image.
type Store interface {
	QueueTagUpdate(ctx context.Context, imageID int64, tags []string) error
}

// Config configures a Tagger.
type Config struct {
	Workers   int           // default 2
	QueueSize int           // default 100
	Timeout   time.Duration // per job, default 30s
	MaxTags   int           // default 8
}

// DefaultConfig returns the defaults listed on Config.
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 100, Timeout: 30 * time.Second, MaxTags: 8}
}

// Stats counts processed jobs.
type Stats struct {
	Queued    int64 `json:"queued"`
	Dropped   int64 `json:"dropped"`
	Tagged    int64 `json:"tagged"`
	Fallbacks int64 `json:"fallbacks"`
	Failed    int64 `json:"failed"`
}

type job struct {
	imageID int64
	prompt  string
	meta    Metadata
}

// Tagger runs tagging jobs on a worker pool.
type Tagger struct {
	cfg    Config
	gen    Generator
	store  Store
	logger *logging.Logger

	mu      sync.RWMutex
	jobs    chan job
	started bool
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	queued, dropped, tagged, fallbacks, failed atomic.Int64
}

// NewTagger creates a Tagger. A nil gen means keyword tags only.
func NewTagger(cfg Config, gen Generator, store Store, logger *logging.Logger) *Tagger {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTags < 1 {
		cfg.MaxTags = def.MaxTags
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tagger{
		cfg:    cfg,
		gen:    gen,
		store:  store,
		logger: logger.Named("tagging"),
		jobs:   make(chan job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the workers. Calling it again has no effect.
func (t *Tagger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return
	}
	t.started = true
	for i := 0; i < t.cfg.Workers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
	t.logger.Info("tagger started", zap.Int("workers", t.cfg.Workers), zap.Bool("llm", t.gen != nil))
}

// TagAsync enqueues a job and returns immediately. Jobs are dropped, with a
// warning, when the tagger is not running or its queue is full.
func (t *Tagger) TagAsync(imageID int64, prompt string, meta Metadata) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.started || t.stopped {
		t.dropped.Add(1)
		t.logger.Warn("tagger not running, dropping job", logging.ImageID(imageID))
		return
	}
	select {
	case t.jobs <- job{imageID: imageID, prompt: prompt, meta: meta}:
		t.queued.Add(1)
	default:
		t.dropped.Add(1)
		t.logger.Warn("tagging queue full, dropping job", logging.ImageID(imageID))
	}
}

// Stop stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, in-flight jobs are cancelled and ctx's error returned.
func (t *Tagger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrStopped
	}
	t.stopped = true
	close(t.jobs)
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-done
		return fmt.Errorf("tagging: stop: %w", ctx.Err())
	}
}

// Stats returns job counters.
func (t *Tagger) Stats() Stats {
	return Stats{
		Queued:    t.queued.Load(),
		Dropped:   t.dropped.Load(),
		Tagged:    t.tagged.Load(),
		Fallbacks: t.fallbacks.Load(),
		Failed:    t.failed.Load(),
	}
}

func (t *Tagger) worker() {
	defer t.wg.Done()
	for j := range t.jobs {
		t.process(j)
	}
}

// process tags one image. Every failure is logged and swallowed.
func (t *Tagger) process(j job) {
	log := t.logger.With(logging.ImageID(j.imageID), logging.RequestID(j.meta.RequestID))
	defer func() {
		if r := recover(); r != nil {
			t.failed.Add(1)
			log.Error("tagging panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.Timeout)
	defer cancel()

	var tags []string
	if t.gen != nil {
		generated, err := t.gen.Tags(ctx, j.prompt, j.meta)
		if err != nil {
			log.Warn("tag generation failed, using keywords", zap.Error(err))
		}
		tags = Normalize(generated, t.cfg.MaxTags)
	}
	if len(tags) == 0 {
		t.fallbacks.Add(1)
		tags = KeywordTags(j.prompt, t.cfg.MaxTags)
	}

	if err := t.store.QueueTagUpdate(ctx, j.imageID, tags); err != nil {
		t.failed.Add(1)
		log.Warn("failed to store tags", zap.Error(err))
		return
	}
	t.tagged.Add(1)
	log.Debug("image tagged", zap.Strings("tags", tags))
}
