package tagging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"
)

type memoryStore struct {
	mu   sync.Mutex
	tags map[int64][]string
	err  error
}

func (s *memoryStore) QueueTagUpdate(ctx context.Context, id int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.tags == nil {
		s.tags = make(map[int64][]string)
	}
	s.tags[id] = tags
	return nil
}

func (s *memoryStore) get(id int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[id]
}

type fakeGenerator struct {
	tags  []string
	err   error
	block chan struct{}
}

func (g *fakeGenerator) Tags(ctx context.Context, prompt string, meta Metadata) ([]string, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.tags, g.err
}

func TestTagger_TagsThroughGenerator(t *testing.T) {
	store := &memoryStore{}
	tagger := NewTagger(Config{Workers: 2}, &fakeGenerator{tags: []string{"Cat", " cat", "Sunset"}}, store, nil)
	tagger.Start()

	tagger.TagAsync(1, "a cat at sunset", Metadata{Provider: "flux"})
	if err := tagger.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := store.get(1); !reflect.DeepEqual(got, []string{"cat", "sunset"}) {
		t.Errorf("tags = %v, want [cat sunset]", got)
	}
	if s := tagger.Stats(); s.Tagged != 1 || s.Fallbacks != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestTagger_FallsBackToKeywords(t *testing.T) {
	store := &memoryStore{}
	tagger := NewTagger(Config{}, &fakeGenerator{err: errors.New("rate limited")}, store, nil)
	tagger.Start()

	tagger.TagAsync(7, "A red fox in the snowy forest", Metadata{})
	tagger.Stop(context.Background())

	want := []string{"red", "fox", "snowy", "forest"}
	if got := store.get(7); !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
	if s := tagger.Stats(); s.Fallbacks != 1 {
		t.Errorf("Fallbacks = %d, want 1", s.Fallbacks)
	}
}

func TestTagger_StoreFailureSwallowed(t *testing.T) {
	tagger := NewTagger(Config{}, nil, &memoryStore{err: errors.New("db down")}, nil)
	tagger.Start()
	tagger.TagAsync(1, "prompt words here", Metadata{})
	if err := tagger.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s := tagger.Stats(); s.Failed != 1 {
		t.Errorf("Failed = %d, want 1", s.Failed)
	}
}

func TestTagger_DropsWhenNotRunning(t *testing.T) {
	store := &memoryStore{}
	tagger := NewTagger(Config{}, nil, store, nil)

	tagger.TagAsync(1, "before start", Metadata{})
	tagger.Start()
	tagger.Stop(context.Background())
	tagger.TagAsync(2, "after stop", Metadata{})

	if s := tagger.Stats(); s.Dropped != 2 || s.Queued != 0 {
		t.Errorf("stats = %+v, want 2 dropped", s)
	}
	if err := tagger.Stop(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("second Stop() error = %v, want ErrStopped", err)
	}
}

func TestTagger_TagAsyncDoesNotBlock(t *testing.T) {
	gen := &fakeGenerator{tags: []string{"x"}, block: make(chan struct{})}
	tagger := NewTagger(Config{Workers: 1, QueueSize: 1}, gen, &memoryStore{}, nil)
	tagger.Start()

	start := time.Now()
	for i := int64(0); i < 10; i++ {
		tagger.TagAsync(i, "p", Metadata{})
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("TagAsync blocked for %v", elapsed)
	}
	if s := tagger.Stats(); s.Dropped == 0 {
		t.Error("expected drops once the queue was full")
	}

	close(gen.block)
	tagger.Stop(context.Background())
}

func TestTagger_StopDeadline(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{})}
	tagger := NewTagger(Config{Workers: 1, Timeout: time.Minute}, gen, &memoryStore{}, nil)
	tagger.Start()
	tagger.TagAsync(1, "slow job", Metadata{})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tagger.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}
}

func TestKeywordTags(t *testing.T) {
	got := KeywordTags("The cat, the CAT and a dog-like robot on Mars!!", 3)
	want := []string{"cat", "dog-like", "robot"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KeywordTags() = %v, want %v", got, want)
	}
	if got := KeywordTags("a an of", 5); len(got) != 0 {
		t.Errorf("KeywordTags(stopwords) = %v, want empty", got)
	}
}

func TestParseTagList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{`["cat", "sunset"]`, []string{"cat", "sunset"}},
		{"```json\n[\"a\",\"b\"]\n```", []string{"a", "b"}},
		{"cat, dog", []string{"cat", " dog"}},
	}
	for _, tt := range tests {
		got, err := parseTagList(tt.in)
		if err != nil {
			t.Errorf("parseTagList(%q) error = %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseTagList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := parseTagList("  "); err == nil {
		t.Error("expected error for empty content")
	}
	if _, err := parseTagList("[broken"); err == nil {
		t.Error("expected error for broken JSON")
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel, _ = req["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   gotModel,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": `["cat","window"]`},
			}},
		})
	}))
	defer server.Close()

	if _, err := NewOpenAIGenerator(OpenAIGeneratorConfig{}); err == nil {
		t.Error("expected error without API key")
	}

	gen, err := NewOpenAIGenerator(OpenAIGeneratorConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	tags, err := gen.Tags(context.Background(), "a cat by the window", Metadata{})
	if err != nil {
		t.Fatalf("Tags() error = %v", err)
	}
	if !reflect.DeepEqual(tags, []string{"cat", "window"}) {
		t.Errorf("Tags() = %v", tags)
	}
	if gotModel != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", gotModel)
	}
}
