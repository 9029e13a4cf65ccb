package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"gen_backend/db"
	"gen_backend/imagegen"
	"gen_backend/storage"
	"gen_backend/tagging"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testPayload(t *testing.T) string {
	return base64.StdEncoding.EncodeToString(testPNG(t))
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	saveErr   error
	existsErr error
	deleteErr error
	deletes   int
	deleteCtx error // ctx.Err() observed by the last Delete
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Save(ctx context.Context, data []byte, filename string, meta storage.Metadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	s.objects[filename] = append([]byte(nil), data...)
	return "/uploads/" + filename, nil
}

func (s *memStore) Delete(ctx context.Context, urlOrName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	s.deleteCtx = ctx.Err()
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	name := strings.TrimPrefix(urlOrName, "/uploads/")
	_, ok := s.objects[name]
	delete(s.objects, name)
	return ok, nil
}

func (s *memStore) Exists(ctx context.Context, urlOrName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.objects[strings.TrimPrefix(urlOrName, "/uploads/")]
	return ok, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// memRepo is an in-memory ImageRepository.
type memRepo struct {
	mu      sync.Mutex
	images  map[int64]*db.Image
	nextID  int64
	saveErr error
}

func newMemRepo() *memRepo {
	return &memRepo{images: make(map[int64]*db.Image)}
}

func (r *memRepo) SaveImage(ctx context.Context, img *db.Image) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return 0, r.saveErr
	}
	r.nextID++
	img.ID = r.nextID
	stored := *img
	r.images[img.ID] = &stored
	return img.ID, nil
}

func (r *memRepo) GetImageByID(ctx context.Context, id int64) (*db.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[id]
	if !ok {
		return nil, db.ErrImageNotFound
	}
	out := *img
	return &out, nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

type tagCall struct {
	imageID int64
	prompt  string
	meta    tagging.Metadata
}

// spyTagger records TagAsync calls.
type spyTagger struct {
	mu    sync.Mutex
	calls []tagCall
}

func (s *spyTagger) TagAsync(imageID int64, prompt string, meta tagging.Metadata) {
	s.mu.Lock()
	s.calls = append(s.calls, tagCall{imageID: imageID, prompt: prompt, meta: meta})
	s.mu.Unlock()
}

func (s *spyTagger) snapshot() []tagCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tagCall(nil), s.calls...)
}

// fakeProvider answers with data or err. When block is set it waits for
// ctx instead, closing started first.
type fakeProvider struct {
	name    string
	data    string
	err     error
	block   bool
	started chan struct{}
	once    sync.Once

	mu     sync.Mutex
	inputs []imagegen.Input
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(ctx context.Context, in imagegen.Input) (*imagegen.Result, error) {
	p.mu.Lock()
	p.inputs = append(p.inputs, in)
	p.mu.Unlock()

	if p.block {
		if p.started != nil {
			p.once.Do(func() { close(p.started) })
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	return &imagegen.Result{Provider: p.name, Success: true, Data: p.data, Model: p.name + "-v1"}, nil
}

func (p *fakeProvider) calls() []imagegen.Input {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]imagegen.Input(nil), p.inputs...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var errDBDown = errors.New("database is locked")
