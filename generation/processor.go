package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gen_backend/db"
	"gen_backend/imagegen"
	"gen_backend/logging"
	"gen_backend/storage"
	"gen_backend/tagging"
)

// rollbackTimeout bounds the storage delete issued after a failed insert.
// The delete runs even when the request context is already cancelled.
const rollbackTimeout = 10 * time.Second

// ImageRepository is the database contract of the pipeline.
type ImageRepository interface {
	SaveImage(ctx context.Context, img *db.Image) (int64, error)
	GetImageByID(ctx context.Context, id int64) (*db.Image, error)
}

// Tagger labels images in the background. TagAsync must not block.
type Tagger interface {
	TagAsync(imageID int64, prompt string, meta tagging.Metadata)
}

// Messages returned in ProcessedResult.Error. The underlying error is
// logged and exposed through ProcessedResult.Debug only in debug mode.
const (
	msgMissingResult   = "missing provider result"
	msgUnreadableImage = "provider returned an unreadable image"
	msgStoreFailed     = "failed to store generated image"
	msgPersistFailed   = "failed to save generated image"
)

// ResultProcessor turns provider results into stored images.
//
// For each successful result it stores the decoded bytes, inserts the
// database row and schedules tagging. If the insert fails an object this
// call created is deleted before the error is returned. Objects that
// already existed are shared with earlier rows (names are content
// derived) and are left alone, so no row ever points at a missing object.
type ResultProcessor struct {
	store  storage.Store
	repo   ImageRepository
	tagger Tagger
	logger *logging.Logger
	locks  objectLocks
}

// objectLocks serialises the store, insert and rollback steps for one
// object name.
type objectLocks struct {
	mu   sync.Mutex
	held map[string]*objectLock
}

type objectLock struct {
	mu   sync.Mutex
	refs int
}

func (l *objectLocks) lock(name string) func() {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*objectLock)
	}
	ol, ok := l.held[name]
	if !ok {
		ol = &objectLock{}
		l.held[name] = ol
	}
	ol.refs++
	l.mu.Unlock()

	ol.mu.Lock()
	return func() {
		ol.mu.Unlock()
		l.mu.Lock()
		ol.refs--
		if ol.refs == 0 {
			delete(l.held, name)
		}
		l.mu.Unlock()
	}
}

// NewResultProcessor creates a ResultProcessor. tagger may be nil.
func NewResultProcessor(store storage.Store, repo ImageRepository, tagger Tagger, logger *logging.Logger) *ResultProcessor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ResultProcessor{
		store:  store,
		repo:   repo,
		tagger: tagger,
		logger: logger.Named("results"),
	}
}

// ContentFilename derives the object name from the image bytes and the
// provider: the first 32 hex digits of sha256(data || provider) plus ext.
func ContentFilename(data []byte, provider, ext string) string {
	h := sha256.New()
	h.Write(data)
	h.Write([]byte(provider))
	return hex.EncodeToString(h.Sum(nil))[:32] + ext
}

// Process persists one result. A failed provider result is passed through
// without side effects. On error the returned ProcessedResult is the
// failure entry for that provider.
func (p *ResultProcessor) Process(ctx context.Context, res *imagegen.Result, rc ResultContext) (ProcessedResult, error) {
	if res == nil {
		return ProcessedResult{Success: false, Error: msgMissingResult, err: errors.New(msgMissingResult)}, nil
	}
	if !res.Success {
		cause := res.Err
		if cause == nil {
			cause = errors.New(res.Error)
		}
		return ProcessedResult{
			Provider: res.Provider,
			Success:  false,
			Error:    fmt.Sprintf("provider %s failed to generate an image", res.Provider),
			err:      cause,
		}, nil
	}

	log := p.logger.With(logging.RequestID(rc.RequestID), logging.Provider(res.Provider), logging.UserID(rc.UserID))
	fail := func(message string, err error) (ProcessedResult, error) {
		log.Warn("result not persisted", zap.String("reason", message), zap.Error(err))
		return ProcessedResult{Provider: res.Provider, Success: false, Error: message, err: err}, err
	}

	data, err := imagegen.DecodePayload(res.Data)
	if err != nil {
		return fail(msgUnreadableImage, fmt.Errorf("generation: decode %s payload: %w", res.Provider, err))
	}
	format, err := imagegen.DetectFormat(data)
	if err != nil {
		return fail(msgUnreadableImage, fmt.Errorf("generation: %s payload: %w", res.Provider, err))
	}

	filename := ContentFilename(data, res.Provider, imagegen.ExtensionFor(format))
	meta := storage.Metadata{
		ContentType: storage.ContentTypeFor(filename),
		Provider:    res.Provider,
		RequestID:   rc.RequestID,
	}
	if rc.UserID != nil {
		meta.UserID = *rc.UserID
	}

	unlock := p.locks.lock(filename)
	defer unlock()

	existed, err := p.store.Exists(ctx, filename)
	if err != nil {
		return fail(msgStoreFailed, fmt.Errorf("generation: check %s image: %w", res.Provider, err))
	}
	url, err := p.store.Save(ctx, data, filename, meta)
	if err != nil {
		return fail(msgStoreFailed, fmt.Errorf("generation: store %s image: %w", res.Provider, err))
	}

	img := &db.Image{
		Prompt:    rc.Prompt,
		Original:  rc.Original,
		ImageURL:  url,
		Provider:  res.Provider,
		Model:     res.Model,
		Guidance:  res.Guidance,
		IsPublic:  rc.AutoPublic,
		UserID:    rc.UserID,
		PromptID:  rc.PromptID,
		RequestID: rc.RequestID,
		Tags:      []string{},
	}
	id, err := p.repo.SaveImage(ctx, img)
	if err != nil {
		perr := &PersistenceError{Provider: res.Provider, ImageURL: url, Err: err}
		if existed {
			log.Warn("image row insert failed, shared object kept",
				zap.String("image_url", url),
				zap.Error(err))
		} else if perr.RollbackErr = p.rollback(ctx, url); perr.RollbackErr != nil {
			log.Error("rollback of stored image failed",
				zap.String("image_url", url),
				zap.NamedError("db_error", err),
				zap.NamedError("rollback_error", perr.RollbackErr))
		} else {
			log.Warn("image row insert failed, stored object removed",
				zap.String("image_url", url),
				zap.Error(err))
		}
		return ProcessedResult{Provider: res.Provider, Success: false, Error: msgPersistFailed, err: perr}, perr
	}

	if p.tagger != nil {
		p.tagger.TagAsync(id, rc.Prompt, tagging.Metadata{
			Provider:  res.Provider,
			Model:     res.Model,
			RequestID: rc.RequestID,
			UserID:    rc.UserID,
			ImageURL:  url,
		})
	}

	log.Info("image persisted", logging.ImageID(id), zap.String("image_url", url), zap.Int("bytes", len(data)))
	return ProcessedResult{
		Provider: res.Provider,
		Success:  true,
		ImageID:  id,
		ImageURL: url,
		Tags:     img.Tags,
		TaggedAt: img.TaggedAt,
	}, nil
}

// rollback deletes a stored object on a context detached from the request.
func (p *ResultProcessor) rollback(ctx context.Context, url string) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if _, err := p.store.Delete(rctx, url); err != nil {
		return fmt.Errorf("generation: rollback delete %s: %w", url, err)
	}
	return nil
}

// ProcessAll persists results concurrently and independently, preserving
// order. The error is non-nil only when nothing was persisted and at least
// one result failed during persistence; it is that first failure.
func (p *ResultProcessor) ProcessAll(ctx context.Context, results []*imagegen.Result, rc ResultContext) ([]ProcessedResult, error) {
	out := make([]ProcessedResult, len(results))
	errs := make([]error, len(results))

	var g errgroup.Group
	for i, res := range results {
		g.Go(func() error {
			out[i], errs[i] = p.Process(ctx, res, rc)
			return nil
		})
	}
	g.Wait()

	for _, r := range out {
		if r.Success {
			return out, nil
		}
	}
	for _, err := range errs {
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
