package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gen_backend/api"
	"gen_backend/core"
	"gen_backend/core/validation"
	"gen_backend/db"
	"gen_backend/generation"
	"gen_backend/imagegen"
	"gen_backend/logging"
	"gen_backend/metrics"
	"gen_backend/prompt"
	"gen_backend/queue"
	"gen_backend/shutdown"
	"gen_backend/storage"
	"gen_backend/tagging"
)

// minFreeDisk is the free space the local storage backend wants at startup.
const minFreeDisk = 512 << 20

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Warning: failed to read .env file: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return core.ExitCodeConfig
	}

	logger, err := logging.New(logging.Options{Development: cfg.DevMode, FilePath: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer func() { _ = logger.Sync() }()

	catalog, err := core.LoadProviderCatalog(cfg.ProvidersFile, cfg)
	if err != nil {
		logger.Error("failed to load provider catalog", zap.Error(err))
		return core.ExitCodeConfig
	}

	logger.Info("configuration loaded",
		zap.String("version", core.GetVersionInfo()),
		zap.Int("port", cfg.Port),
		zap.String("storage", cfg.StorageBackend),
		zap.String("database", cfg.DatabasePath),
		zap.Strings("providers", catalog.IDs()),
		zap.Bool("multi_provider", cfg.MultiProvider),
		zap.Int("queue_max_concurrent", cfg.QueueMaxConcurrent),
		zap.Duration("queue_default_timeout", cfg.QueueDefaultTimeout),
		zap.String("queue_drain_policy", cfg.QueueDrainPolicy),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		logger.Error("failed to create database directory", zap.Error(err))
		return core.ExitCodeError
	}
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", zap.String("path", cfg.DatabasePath), zap.Error(err))
		return core.ExitCodeError
	}

	if code := runStartupValidation(cfg, catalog, database, logger); code != core.ExitCodeSuccess {
		database.Close()
		return code
	}

	manager := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	manager.Start()

	if err := serve(manager.Context(), cfg, catalog, database, manager, logger); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		if shutdownErr := manager.Shutdown(); shutdownErr != nil {
			logger.Error("shutdown incomplete", zap.Error(shutdownErr))
		}
		return core.ExitCodeError
	}

	if err := manager.Shutdown(); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
		return core.ExitCodeError
	}
	logger.Info("Goodbye!")
	return core.ExitCodeSuccess
}

// runStartupValidation checks every dependency before the server binds
// its port. Disk space is advisory.
func runStartupValidation(cfg *core.Config, catalog *core.ProviderCatalog, database *db.Database, logger *logging.Logger) int {
	suite := validation.NewValidationSuite().
		WithShowProgress(cfg.DevMode).
		Add("Configuration", validation.ConfigCheck(cfg)).
		Add("Provider Catalog", validation.ProviderCatalogCheck(catalog)).
		Add("Database", validation.PingCheck(database)).
		Add("Temp Directory", validation.WritableDirCheck(cfg.TempDir))
	if cfg.StorageBackend == core.StorageLocal {
		suite.Add("Local Storage", validation.WritableDirCheck(cfg.LocalStorageDir)).
			AddOptional("Disk Space", validation.DiskSpaceCheck(cfg.LocalStorageDir, minFreeDisk))
	}

	result := suite.Validate(context.Background())
	if !result.Success {
		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("validation step failed", zap.String("step", step.Name), zap.Error(step.Error))
			}
		}
		logger.Error("startup validation failed", zap.String("summary", result.Summary()))
		if _, ok := core.IsConfigError(result.GetFirstError()); ok {
			return core.ExitCodeConfig
		}
		return core.ExitCodeError
	}

	for _, step := range result.Steps {
		if step.Status == validation.StepWarning {
			logger.Warn("validation warning", zap.String("step", step.Name), zap.Error(step.Error))
		}
	}
	logger.Info("startup validation passed", zap.String("summary", result.Summary()))
	return core.ExitCodeSuccess
}

// serve wires the pipeline, registers every shutdown handler and blocks
// until ctx is cancelled or the HTTP server fails.
func serve(ctx context.Context, cfg *core.Config, catalog *core.ProviderCatalog, database *db.Database,
	manager *shutdown.Manager, logger *logging.Logger) error {
	manager.Register("database", shutdown.PriorityStorage+5, func(ctx context.Context) error {
		return database.Close()
	})
	manager.Register("logger", shutdown.PriorityLogger, func(ctx context.Context) error {
		_ = logger.Sync()
		return nil
	})

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		return err
	}

	writer := db.NewAsyncWriter(db.DefaultChannelCapacity, func(op db.WriteOperation, err error) {
		logger.Warn("async write failed", zap.String("op", op.Name), zap.Error(err))
	})
	writer.Start()
	manager.Register("async-writer", shutdown.PriorityStorage, writer.Stop)
	repo := db.NewRepository(database, writer)

	storeCfg := metrics.DefaultStoreConfig()
	storeCfg.Version = core.Version
	recorder := metrics.NewRecorder(metrics.NewMetricsStore(storeCfg, time.Now()))

	providers, err := imagegen.BuildRegistry(catalog, cfg, logger)
	if err != nil {
		return err
	}
	if providers.Len() == 0 {
		return core.ErrProviderCatalog(cfg.ProvidersFile, "no provider could be constructed")
	}
	invoker := imagegen.NewInvoker(logger, recorder)

	q := queue.New(queue.Config{
		MaxConcurrent:  cfg.QueueMaxConcurrent,
		DefaultTimeout: cfg.QueueDefaultTimeout,
		DrainPolicy:    queue.DrainPolicy(cfg.QueueDrainPolicy),
	}, logger, recorder)
	manager.Register("queue", shutdown.PriorityQueue, func(ctx context.Context) error {
		recorder.Store().SetHealth(metrics.SystemHealthDraining)
		err := q.Shutdown(ctx)
		recorder.Store().SetHealth(metrics.SystemHealthStopped)
		return err
	})

	tagger := tagging.NewTagger(tagging.Config{
		Workers: cfg.TaggingWorkers,
		Timeout: cfg.TaggingTimeout,
	}, newTagGenerator(cfg, logger), repo, logger)
	tagger.Start()
	manager.Register("tagger", shutdown.PriorityWorkers, tagger.Stop)

	results := generation.NewResultProcessor(store, repo, tagger, logger)
	orchestrator := generation.NewOrchestrator(generation.Config{
		MultiProvider:   cfg.MultiProvider,
		DefaultGuidance: cfg.DefaultGuidance,
		DefaultTimeout:  cfg.QueueDefaultTimeout,
		Debug:           cfg.Debug,
		TempDir:         cfg.TempDir,
	}, q, providers, invoker, prompt.NewBuilder(nil), results, logger)

	manager.Register("temp-files", shutdown.PriorityTempDirs,
		shutdown.CleanupScratchFiles(logger.Named("shutdown"), cfg.TempDir, "*"))

	serverCfg := api.DefaultServerConfig()
	serverCfg.Port = cfg.Port
	serverCfg.Version = core.Version
	serverCfg.GenerateRateLimit = cfg.GenerateRateLimit
	serverCfg.GenerateBurst = cfg.GenerateBurst
	if cfg.StorageBackend == core.StorageLocal {
		serverCfg.UploadsDir = cfg.LocalStorageDir
		serverCfg.UploadsPrefix = cfg.PublicBaseURL
	}
	if cfg.QueueDefaultTimeout+30*time.Second > serverCfg.WriteTimeout {
		serverCfg.WriteTimeout = cfg.QueueDefaultTimeout + 30*time.Second
	}
	server, err := api.NewServer(serverCfg, api.Dependencies{
		Generator:  orchestrator,
		Images:     repo,
		Queue:      q,
		Recorder:   recorder,
		Database:   database,
		Operations: manager,
	}, logger)
	if err != nil {
		return err
	}
	manager.Register("http-server", shutdown.PriorityHTTP, server.Shutdown)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		recorder.Store().SetHealth(metrics.SystemHealthDraining)
		return nil
	case err := <-serveErr:
		if err != nil {
			manager.Trigger("http server failed")
		}
		return err
	}
}

// newObjectStore picks the storage backend named by the configuration.
func newObjectStore(ctx context.Context, cfg *core.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case core.StorageS3:
		s3Cfg := storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			Prefix:        "images/",
			PublicBaseURL: cfg.S3PublicBaseURL,
		}
		client, err := storage.NewS3Client(ctx, s3Cfg)
		if err != nil {
			return nil, err
		}
		s3Store, err := storage.NewS3Store(client, s3Cfg)
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	default:
		local, err := storage.NewLocalStore(cfg.LocalStorageDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return local, nil
	}
}

// newTagGenerator returns the OpenAI tag generator when tagging is enabled
// and a key is configured. A nil Generator makes the tagger use prompt
// keywords.
func newTagGenerator(cfg *core.Config, logger *logging.Logger) tagging.Generator {
	if !cfg.TaggingEnabled || !cfg.HasOpenAI() {
		return nil
	}
	gen, err := tagging.NewOpenAIGenerator(tagging.OpenAIGeneratorConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.TaggingModel,
		HTTPClient: core.GetHTTPClient(cfg, cfg.TaggingTimeout),
	})
	if err != nil {
		logger.Warn("falling back to keyword tags", zap.Error(err))
		return nil
	}
	return gen
}
