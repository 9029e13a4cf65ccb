package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownRegistry_Order(t *testing.T) {
	r := NewShutdownRegistry()
	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	r.Register("logger", PriorityLogger, record("logger"))
	r.Register("database", PriorityStorage, record("database"))
	r.Register("queue", PriorityQueue, record("queue"))
	r.Register("tagger", PriorityWorkers, record("tagger"))
	r.Register("writer", PriorityWorkers, record("writer"))

	want := []string{"queue", "tagger", "writer", "database", "logger"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	results := r.Shutdown(context.Background())
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("execution order = %v, want %v", order, want)
	}

	if again := r.Shutdown(context.Background()); again != nil {
		t.Errorf("second Shutdown() = %v, want nil", again)
	}
	r.Register("late", 0, record("late"))
	if r.Count() != 5 {
		t.Errorf("registration after shutdown was accepted")
	}
}

func TestShutdownRegistry_FailuresDoNotStopLaterHandlers(t *testing.T) {
	r := NewShutdownRegistry()
	boom := errors.New("boom")
	var ran atomic.Int32

	r.Register("fails", 1, func(ctx context.Context) error { return boom })
	r.Register("panics", 2, func(ctx context.Context) error { panic("bad handler") })
	r.Register("runs", 3, func(ctx context.Context) error { ran.Add(1); return nil })

	results := r.Shutdown(context.Background())
	if ran.Load() != 1 {
		t.Error("handler after failures did not run")
	}
	if !errors.Is(results[0].Err, boom) {
		t.Errorf("results[0].Err = %v, want wrapped boom", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("panicking handler should report an error")
	}
	if results[2].Err != nil {
		t.Errorf("results[2].Err = %v", results[2].Err)
	}
}

func TestOperationTracker(t *testing.T) {
	tr := NewOperationTracker()
	if !tr.Start() {
		t.Fatal("Start() = false on open tracker")
	}
	if tr.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", tr.ActiveCount())
	}

	tr.Close()
	if tr.Start() {
		t.Error("Start() = true after Close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() with active op = %v, want deadline exceeded", err)
	}

	tr.Done()
	if err := tr.Wait(context.Background()); err != nil {
		t.Errorf("Wait() = %v, want nil", err)
	}
}

func TestSignalCounter(t *testing.T) {
	forced := 0
	c := NewSignalCounter(2, func() { forced++ })
	if c.Increment() != 1 || forced != 0 {
		t.Fatal("first signal should not force")
	}
	if c.Increment() != 2 || forced != 1 {
		t.Errorf("second signal forced = %d, want 1", forced)
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(nil, WithTimeout(time.Second), WithForceExit(func() {}))

	var ran []string
	m.Register("database", PriorityStorage, func(ctx context.Context) error {
		ran = append(ran, "database")
		return nil
	})
	m.Register("queue", PriorityQueue, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("handler context has no deadline")
		}
		ran = append(ran, "queue")
		return nil
	})

	release := make(chan struct{})
	opDone := make(chan error, 1)
	opStarted := make(chan struct{})
	go func() {
		opDone <- m.WrapOperation(context.Background(), func(ctx context.Context) error {
			close(opStarted)
			<-release
			return nil
		})
	}()
	<-opStarted

	shutdownDone := make(chan error, 1)
	go func() { shutdownDone <- m.Shutdown() }()

	select {
	case <-m.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("Context not cancelled by Shutdown")
	}
	if err := m.WrapOperation(context.Background(), func(ctx context.Context) error { return nil }); !errors.Is(err, ErrTrackerClosed) {
		t.Errorf("WrapOperation during shutdown = %v, want ErrTrackerClosed", err)
	}

	close(release)
	if err := <-shutdownDone; err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := <-opDone; err != nil {
		t.Errorf("in-flight operation error = %v", err)
	}
	if !reflect.DeepEqual(ran, []string{"queue", "database"}) {
		t.Errorf("handlers ran %v", ran)
	}
	if !m.IsShuttingDown() {
		t.Error("IsShuttingDown() = false")
	}
	if err := m.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
}

func TestManager_ShutdownReportsFailures(t *testing.T) {
	m := NewManager(nil, WithTimeout(time.Second))
	m.Register("broken", 1, func(ctx context.Context) error { return errors.New("close failed") })

	if err := m.Shutdown(); err == nil {
		t.Error("Shutdown() error = nil, want failure")
	}
}

func TestManager_Trigger(t *testing.T) {
	m := NewManager(nil)
	m.Trigger("server stopped")
	select {
	case <-m.Context().Done():
	default:
		t.Error("Trigger did not cancel the context")
	}
}

func TestCleanupScratchFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"gen-a.part", "gen-b.part", "keep.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(nil)
	if err := CleanupScratchFiles(m.logger, dir, "gen-*")(context.Background()); err != nil {
		t.Fatalf("cleanup error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "keep.txt" {
		t.Errorf("remaining entries = %v, want only keep.txt", entries)
	}

	if err := CleanupScratchFiles(m.logger, "", "*")(context.Background()); err != nil {
		t.Errorf("empty dir cleanup error = %v", err)
	}
}
