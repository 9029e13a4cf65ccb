package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gen_backend/core"
	"gen_backend/db"
	"gen_backend/logging"
	"gen_backend/storage"
)

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	return &core.Config{
		Port:                3000,
		DatabasePath:        filepath.Join(dir, "images.db"),
		StorageBackend:      core.StorageLocal,
		LocalStorageDir:     filepath.Join(dir, "uploads"),
		PublicBaseURL:       "/uploads",
		QueueMaxConcurrent:  2,
		QueueDefaultTimeout: time.Minute,
		QueueDrainPolicy:    core.DrainPolicyDrain,
		DefaultGuidance:     10,
		TempDir:             filepath.Join(dir, "tmp"),
		TaggingEnabled:      true,
		TaggingWorkers:      1,
		TaggingTimeout:      time.Second,
	}
}

func openTestDB(t *testing.T, cfg *core.Config) *db.Database {
	t.Helper()
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestRunStartupValidation(t *testing.T) {
	cfg := testConfig(t)
	database := openTestDB(t, cfg)
	catalog := &core.ProviderCatalog{Providers: []core.ProviderSpec{
		{ID: "flux", Kind: core.ProviderKindHTTP, Endpoint: "http://localhost:9000/generate"},
	}}

	if code := runStartupValidation(cfg, catalog, database, logging.NewNop()); code != core.ExitCodeSuccess {
		t.Errorf("runStartupValidation() = %d, want %d", code, core.ExitCodeSuccess)
	}
}

func TestRunStartupValidation_EmptyCatalogIsConfigError(t *testing.T) {
	cfg := testConfig(t)
	database := openTestDB(t, cfg)

	code := runStartupValidation(cfg, &core.ProviderCatalog{}, database, logging.NewNop())
	if code != core.ExitCodeConfig {
		t.Errorf("runStartupValidation() = %d, want %d (%s)", code, core.ExitCodeConfig, core.ExitCodeName(code))
	}
}

func TestNewObjectStore_Local(t *testing.T) {
	cfg := testConfig(t)

	store, err := newObjectStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newObjectStore() error = %v", err)
	}
	local, ok := store.(*storage.LocalStore)
	if !ok {
		t.Fatalf("store = %T, want *storage.LocalStore", store)
	}
	if local.Root() != cfg.LocalStorageDir {
		t.Errorf("Root() = %q, want %q", local.Root(), cfg.LocalStorageDir)
	}
}

func TestNewTagGenerator(t *testing.T) {
	cfg := testConfig(t)
	logger := logging.NewNop()

	if gen := newTagGenerator(cfg, logger); gen != nil {
		t.Error("expected keyword fallback without an OpenAI key")
	}

	cfg.OpenAIAPIKey = "sk-test"
	cfg.TaggingModel = "gpt-4o-mini"
	if gen := newTagGenerator(cfg, logger); gen == nil {
		t.Error("expected an OpenAI tag generator when a key is set")
	}

	cfg.TaggingEnabled = false
	if gen := newTagGenerator(cfg, logger); gen != nil {
		t.Error("expected no generator when tagging is disabled")
	}
}
