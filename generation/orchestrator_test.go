package generation

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gen_backend/db"
	"gen_backend/imagegen"
	"gen_backend/prompt"
	"gen_backend/queue"
	"gen_backend/storage"
)

type harness struct {
	orch   *Orchestrator
	queue  *queue.Queue
	store  *memStore
	repo   *memRepo
	tagger *spyTagger
}

func newHarness(t *testing.T, cfg Config, providers ...imagegen.Provider) *harness {
	t.Helper()
	reg := imagegen.NewRegistry()
	for _, p := range providers {
		if err := reg.Register(p); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	q := queue.New(queue.Config{MaxConcurrent: 2, DefaultTimeout: 5 * time.Second}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})

	h := &harness{queue: q, store: newMemStore(), repo: newMemRepo(), tagger: &spyTagger{}}
	results := NewResultProcessor(h.store, h.repo, h.tagger, nil)
	invoker := imagegen.NewInvoker(nil, nil).WithRand(rand.New(rand.NewSource(1)))
	h.orch = NewOrchestrator(cfg, q, reg, invoker, prompt.NewBuilder(rand.New(rand.NewSource(1))), results, nil)
	return h
}

// spyQueue counts submissions and never runs anything.
type spyQueue struct {
	calls int32
}

func (s *spyQueue) AddAsync(ctx context.Context, fn queue.TaskFunc, opts queue.Options) (*queue.Handle, error) {
	atomic.AddInt32(&s.calls, 1)
	return nil, errors.New("spy queue does not run tasks")
}

func TestGenerate_ValidationShortCircuit(t *testing.T) {
	reg := imagegen.NewRegistry()
	reg.Register(&fakeProvider{name: "flux"})
	spy := &spyQueue{}
	orch := NewOrchestrator(Config{}, spy, reg, imagegen.NewInvoker(nil, nil), prompt.NewBuilder(nil),
		NewResultProcessor(newMemStore(), newMemRepo(), nil, nil), nil)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"blank prompt", Request{Prompt: "   ", Providers: []string{"flux"}}, "prompt"},
		{"no providers", Request{Prompt: "a cat"}, "providers"},
		{"unknown provider", Request{Prompt: "a cat", Providers: []string{"nope"}}, "providers[0]"},
		{"guidance too high", Request{Prompt: "a cat", Providers: []string{"flux"}, Guidance: 25}, "guidance"},
		{"negative guidance", Request{Prompt: "a cat", Providers: []string{"flux"}, Guidance: -1}, "guidance"},
		{"bad priority", Request{Prompt: "a cat", Providers: []string{"flux"}, Priority: "urgent"}, "priority"},
		{"oversized prompt", Request{Prompt: strings.Repeat("a", prompt.MaxPromptLength+1), Providers: []string{"flux"}}, "prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := orch.Generate(context.Background(), tt.req)
			if resp.Success {
				t.Fatal("Success = true, want false")
			}
			if resp.Code != CodeValidation {
				t.Errorf("Code = %q, want %q", resp.Code, CodeValidation)
			}
			if !strings.Contains(resp.Error, tt.field) {
				t.Errorf("Error = %q, want mention of %q", resp.Error, tt.field)
			}
			if resp.RequestID == "" {
				t.Error("RequestID should be assigned even for rejected requests")
			}
		})
	}

	if n := atomic.LoadInt32(&spy.calls); n != 0 {
		t.Errorf("queue received %d submissions, want 0", n)
	}
}

func TestGenerate_SingleProvider(t *testing.T) {
	payload := testPayload(t)
	a := &fakeProvider{name: "a", data: payload}
	b := &fakeProvider{name: "b", data: payload}
	h := newHarness(t, Config{DefaultGuidance: 9}, a, b)

	resp := h.orch.Generate(context.Background(), Request{
		RequestID: "req-single",
		Prompt:    "a lighthouse",
		Providers: []string{"a", "b"},
		UserID:    "u1",
	})
	if !resp.Success {
		t.Fatalf("Generate() = %+v", resp)
	}
	if resp.RequestID != "req-single" {
		t.Errorf("RequestID = %q", resp.RequestID)
	}
	if len(resp.Results) != 1 || !resp.Results[0].Success {
		t.Fatalf("Results = %+v, want one success", resp.Results)
	}
	if total := len(a.calls()) + len(b.calls()); total != 1 {
		t.Errorf("provider calls = %d, want 1", total)
	}

	img, err := h.repo.GetImageByID(context.Background(), resp.Results[0].ImageID)
	if err != nil {
		t.Fatalf("GetImageByID() error = %v", err)
	}
	if img.Guidance != 9 {
		t.Errorf("Guidance = %d, want default 9", img.Guidance)
	}
}

func TestGenerate_FanOutPartialSuccess(t *testing.T) {
	payload := testPayload(t)
	h := newHarness(t, Config{MultiProvider: true},
		&fakeProvider{name: "p1", data: payload},
		&fakeProvider{name: "p2", err: errors.New("content policy violation")},
		&fakeProvider{name: "p3", data: payload},
	)

	resp := h.orch.Generate(context.Background(), Request{
		Prompt:    "a harbour at dawn",
		Providers: []string{"p1", "p2", "p3"},
		Guidance:  5,
	})
	if !resp.Success {
		t.Fatalf("Generate() = %+v", resp)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("len(Results) = %d, want 3", len(resp.Results))
	}
	for i, want := range []bool{true, false, true} {
		if resp.Results[i].Success != want {
			t.Errorf("Results[%d].Success = %v, want %v", i, resp.Results[i].Success, want)
		}
	}
	if got := resp.Results[1].Error; got != "provider p2 failed to generate an image" {
		t.Errorf("Results[1].Error = %q", got)
	}
	if resp.Results[1].Debug != "" {
		t.Errorf("Results[1].Debug = %q, want empty without debug mode", resp.Results[1].Debug)
	}
	if h.repo.count() != 2 {
		t.Errorf("persisted images = %d, want 2", h.repo.count())
	}
	if n := len(h.tagger.snapshot()); n != 2 {
		t.Errorf("tagging jobs = %d, want 2", n)
	}
}

func TestGenerate_AllProvidersFail(t *testing.T) {
	h := newHarness(t, Config{MultiProvider: true, Debug: true},
		&fakeProvider{name: "p1", err: errors.New("quota exceeded")},
		&fakeProvider{name: "p2", err: errors.New("bad gateway")},
	)

	resp := h.orch.Generate(context.Background(), Request{Prompt: "a cat", Providers: []string{"p1", "p2"}})
	if resp.Success {
		t.Fatal("Success = true")
	}
	if resp.Code != CodeProviderFailed {
		t.Errorf("Code = %q, want %q", resp.Code, CodeProviderFailed)
	}
	if HTTPStatus(resp.Code) != http.StatusBadGateway {
		t.Errorf("HTTPStatus = %d", HTTPStatus(resp.Code))
	}
	if !strings.Contains(resp.Debug, "quota exceeded") || !strings.Contains(resp.Debug, "bad gateway") {
		t.Errorf("Debug = %q, want both provider errors", resp.Debug)
	}
}

func TestGenerate_DebugDetailHidden(t *testing.T) {
	h := newHarness(t, Config{}, &fakeProvider{name: "p1", err: errors.New("secret upstream detail")})

	resp := h.orch.Generate(context.Background(), Request{Prompt: "a cat", Providers: []string{"p1"}})
	if resp.Success {
		t.Fatal("Success = true")
	}
	if resp.Debug != "" || strings.Contains(resp.Error, "secret") {
		t.Errorf("response leaks internal detail: %+v", resp)
	}
}

func TestGenerate_ResultDebugDetail(t *testing.T) {
	h := newHarness(t, Config{MultiProvider: true, Debug: true},
		&fakeProvider{name: "p1", data: testPayload(t)},
		&fakeProvider{name: "p2", err: errors.New("content policy violation")},
	)

	resp := h.orch.Generate(context.Background(), Request{Prompt: "a cat", Providers: []string{"p1", "p2"}})
	if !resp.Success || len(resp.Results) != 2 {
		t.Fatalf("Generate() = %+v", resp)
	}
	if resp.Results[0].Debug != "" {
		t.Errorf("Results[0].Debug = %q, want empty for a success", resp.Results[0].Debug)
	}
	failed := resp.Results[1]
	if strings.Contains(failed.Error, "content policy") {
		t.Errorf("Error = %q leaks provider detail", failed.Error)
	}
	if !strings.Contains(failed.Debug, "content policy") {
		t.Errorf("Debug = %q, want provider detail", failed.Debug)
	}
}

func TestGenerate_Timeout(t *testing.T) {
	h := newHarness(t, Config{}, &fakeProvider{name: "slow", block: true})

	resp := h.orch.Generate(context.Background(), Request{
		Prompt:    "a cat",
		Providers: []string{"slow"},
		Timeout:   50 * time.Millisecond,
	})
	if resp.Code != CodeTimeout {
		t.Fatalf("Code = %q, want %q (resp %+v)", resp.Code, CodeTimeout, resp)
	}
	if resp.RetryAfterMS != 50 {
		t.Errorf("RetryAfterMS = %d, want 50", resp.RetryAfterMS)
	}
	if h.repo.count() != 0 {
		t.Error("timed out request should not persist anything")
	}
}

func TestGenerate_CancelByRequestID(t *testing.T) {
	p := &fakeProvider{name: "slow", block: true, started: make(chan struct{})}
	h := newHarness(t, Config{}, p)

	done := make(chan Response, 1)
	go func() {
		done <- h.orch.Generate(context.Background(), Request{RequestID: "req-cancel", Prompt: "a cat", Providers: []string{"slow"}})
	}()

	<-p.started
	waitFor(t, func() bool { return h.orch.Cancel("req-cancel") })

	select {
	case resp := <-done:
		if resp.Code != CodeCancelled {
			t.Errorf("Code = %q, want %q", resp.Code, CodeCancelled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Generate did not return after Cancel")
	}

	if h.orch.Cancel("req-cancel") {
		t.Error("Cancel() after completion = true, want false")
	}
	if h.orch.Cancel("unknown") {
		t.Error("Cancel(unknown) = true")
	}
}

func TestGenerate_CallerContextCancelled(t *testing.T) {
	p := &fakeProvider{name: "slow", block: true, started: make(chan struct{})}
	h := newHarness(t, Config{}, p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Response, 1)
	go func() {
		done <- h.orch.Generate(ctx, Request{Prompt: "a cat", Providers: []string{"slow"}})
	}()
	<-p.started
	cancel()

	resp := <-done
	if resp.Code != CodeCancelled {
		t.Errorf("Code = %q, want %q", resp.Code, CodeCancelled)
	}
	if HTTPStatus(resp.Code) != 499 {
		t.Errorf("HTTPStatus = %d, want 499", HTTPStatus(resp.Code))
	}
}

func TestGenerate_DuplicateRequestID(t *testing.T) {
	p := &fakeProvider{name: "slow", block: true, started: make(chan struct{})}
	h := newHarness(t, Config{}, p)

	done := make(chan Response, 1)
	go func() {
		done <- h.orch.Generate(context.Background(), Request{RequestID: "dup", Prompt: "a cat", Providers: []string{"slow"}})
	}()
	<-p.started

	resp := h.orch.Generate(context.Background(), Request{RequestID: "dup", Prompt: "a dog", Providers: []string{"slow"}})
	if resp.Code != CodeValidation {
		t.Errorf("duplicate Code = %q, want %q", resp.Code, CodeValidation)
	}

	waitFor(t, func() bool { return h.orch.Cancel("dup") })
	<-done
}

func TestGenerate_QueueClosed(t *testing.T) {
	h := newHarness(t, Config{}, &fakeProvider{name: "flux", data: testPayload(t)})
	if err := h.queue.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	resp := h.orch.Generate(context.Background(), Request{Prompt: "a cat", Providers: []string{"flux"}})
	if resp.Code != CodeQueueClosed {
		t.Fatalf("Code = %q, want %q", resp.Code, CodeQueueClosed)
	}
	if resp.RetryAfterMS != 30000 {
		t.Errorf("RetryAfterMS = %d, want 30000", resp.RetryAfterMS)
	}
}

func TestGenerate_PersistenceFailure(t *testing.T) {
	h := newHarness(t, Config{}, &fakeProvider{name: "flux", data: testPayload(t)})
	h.repo.saveErr = errDBDown

	resp := h.orch.Generate(context.Background(), Request{Prompt: "a cat", Providers: []string{"flux"}})
	if resp.Code != CodePersistence {
		t.Fatalf("Code = %q, want %q", resp.Code, CodePersistence)
	}
	if h.store.count() != 0 {
		t.Errorf("orphaned objects = %d, want 0", h.store.count())
	}
}

func TestGenerate_PromptOptions(t *testing.T) {
	p := &fakeProvider{name: "flux", data: testPayload(t)}
	h := newHarness(t, Config{}, p)

	resp := h.orch.Generate(context.Background(), Request{
		Prompt:    "a {animal} in snow",
		Providers: []string{"flux"},
		Options: Options{
			Options: prompt.Options{
				CustomVariables: "animal=fox",
				Multiplier:      "4k",
				PromptHelpers:   []string{"sharp"},
			},
			AutoPublic: true,
		},
	})
	if !resp.Success {
		t.Fatalf("Generate() = %+v", resp)
	}

	calls := p.calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d", len(calls))
	}
	want := "a fox in snow, 4k, " + prompt.DefaultHelpers["sharp"]
	if calls[0].Prompt != want {
		t.Errorf("provider prompt = %q, want %q", calls[0].Prompt, want)
	}

	img, _ := h.repo.GetImageByID(context.Background(), resp.Results[0].ImageID)
	if img.Original != "a {animal} in snow" || img.Prompt != want || !img.IsPublic {
		t.Errorf("stored image = %+v", img)
	}

	resp = h.orch.Generate(context.Background(), Request{
		Prompt:    "a cat",
		Providers: []string{"flux"},
		Options:   Options{Options: prompt.Options{PromptHelpers: []string{"nonexistent"}}},
	})
	if resp.Code != CodeValidation {
		t.Errorf("unknown helper Code = %q, want %q", resp.Code, CodeValidation)
	}
}

func TestGenerate_TempCleanupOnFailure(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "req-tmp.part")
	if err := os.WriteFile(scratch, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(dir, "other.part")
	if err := os.WriteFile(other, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t, Config{TempDir: dir}, &fakeProvider{name: "flux", err: errors.New("boom")})
	h.orch.Generate(context.Background(), Request{RequestID: "req-tmp", Prompt: "a cat", Providers: []string{"flux"}})

	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch file still present: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}
}

func TestGenerate_RequestIDRejectsPatterns(t *testing.T) {
	reg := imagegen.NewRegistry()
	reg.Register(&fakeProvider{name: "flux"})
	spy := &spyQueue{}
	orch := NewOrchestrator(Config{}, spy, reg, imagegen.NewInvoker(nil, nil), prompt.NewBuilder(nil),
		NewResultProcessor(newMemStore(), newMemRepo(), nil, nil), nil)

	for _, id := range []string{"*", "req-?", "[a-z]", "../etc", `a\b`, "tab\there"} {
		resp := orch.Generate(context.Background(), Request{RequestID: id, Prompt: "a cat", Providers: []string{"flux"}})
		if resp.Code != CodeValidation {
			t.Errorf("RequestID %q: Code = %q, want %q", id, resp.Code, CodeValidation)
		}
	}
	if n := atomic.LoadInt32(&spy.calls); n != 0 {
		t.Errorf("queue received %d submissions, want 0", n)
	}
}

func TestCleanupTemp_MatchesLiterally(t *testing.T) {
	dir := t.TempDir()
	files := []string{"someone-else.part", "req-1", "req-1.part", "req-10.part", "*.part"}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h := newHarness(t, Config{TempDir: dir})

	h.orch.cleanupTemp("*")
	h.orch.cleanupTemp("req-1")

	remaining := map[string]bool{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		remaining[e.Name()] = true
	}
	for _, keep := range []string{"someone-else.part", "req-10.part"} {
		if !remaining[keep] {
			t.Errorf("%s removed, want kept", keep)
		}
	}
	for _, gone := range []string{"req-1", "req-1.part", "*.part"} {
		if remaining[gone] {
			t.Errorf("%s kept, want removed", gone)
		}
	}
}

func TestGenerate_EndToEnd(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewLocalStore(filepath.Join(root, "uploads"), "/uploads")
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	database, err := db.Open(filepath.Join(root, "images.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := db.NewRepository(database, nil)

	png := testPNG(t)
	reg := imagegen.NewRegistry()
	reg.Register(&fakeProvider{name: "flux", data: testPayload(t)})
	q := queue.New(queue.DefaultConfig(), nil, nil)
	defer q.Shutdown(context.Background())

	orch := NewOrchestrator(Config{}, q, reg, imagegen.NewInvoker(nil, nil), prompt.NewBuilder(nil),
		NewResultProcessor(store, repo, nil, nil), nil)

	resp := orch.Generate(context.Background(), Request{
		Prompt:    "a cat",
		Providers: []string{"flux"},
		Guidance:  10,
		UserID:    "u1",
	})
	if !resp.Success || len(resp.Results) != 1 {
		t.Fatalf("Generate() = %+v", resp)
	}
	res := resp.Results[0]
	if !res.Success || res.Provider != "flux" || res.ImageID == 0 {
		t.Fatalf("result = %+v", res)
	}

	stored, err := os.ReadFile(filepath.Join(store.Root(), strings.TrimPrefix(res.ImageURL, "/uploads/")))
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	if string(stored) != string(png) {
		t.Error("stored bytes differ from the provider payload")
	}

	img, err := repo.GetImageByID(context.Background(), res.ImageID)
	if err != nil {
		t.Fatalf("GetImageByID() error = %v", err)
	}
	if img.Prompt != "a cat" || img.Original != "a cat" || img.Provider != "flux" || img.Guidance != 10 {
		t.Errorf("image row = %+v", img)
	}
	if img.UserID == nil || *img.UserID != "u1" {
		t.Errorf("UserID = %v, want u1", img.UserID)
	}
	if img.ImageURL != res.ImageURL || img.RequestID != resp.RequestID || img.PromptID == "" {
		t.Errorf("image row ids = url %q request %q prompt %q", img.ImageURL, img.RequestID, img.PromptID)
	}
}
