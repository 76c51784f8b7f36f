package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/extraction"
	payrollhandler "github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/handler"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/normalizer"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/reconcile"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/service"

	"github.com/FACorreiaa/payroll-ingest/pkg/blobstore"
	"github.com/FACorreiaa/payroll-ingest/pkg/config"
	"github.com/FACorreiaa/payroll-ingest/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Infrastructure
	Blobs  blobstore.Store
	Vision *extraction.GeminiClient

	// Repositories
	PayrollStore *repository.PostgresStore

	// Services
	PayrollService *service.PayrollService

	// Handlers
	PayrollHandler *payrollhandler.PayrollHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	database, err := OpenDatabase(ctx, d.Config.Database, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories wires the payroll store and the document blob store
func (d *Dependencies) initRepositories(ctx context.Context) error {
	d.PayrollStore = repository.NewPostgresStore(d.DB.Pool, d.Logger)

	blobs, err := OpenBlobStore(ctx, d.Config.Storage)
	if err != nil {
		return err
	}
	d.Blobs = blobs

	d.Logger.Info("repositories initialized", "storage_backend", d.Config.Storage.Backend)
	return nil
}

// initServices wires extraction, reconciliation and the pipeline service
func (d *Dependencies) initServices(ctx context.Context) error {
	svc, vision, err := BuildPayrollService(ctx, d.Config, d.PayrollStore, d.Blobs, d.Logger)
	if err != nil {
		return err
	}
	d.Vision = vision
	d.PayrollService = svc

	d.Logger.Info("services initialized", "extraction_enabled", vision != nil)
	return nil
}

func (d *Dependencies) initHandlers() {
	d.PayrollHandler = payrollhandler.NewPayrollHandler(d.PayrollService, d.Config.Server.MaxUploadBytes)
	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if closer, ok := d.Blobs.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			d.Logger.Warn("failed to close blob store", "error", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}

// OpenDatabase opens the pool described by cfg.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*db.DB, error) {
	return db.New(ctx, db.Config{
		DSN:             cfg.DSN(),
		MaxConns:        int32(cfg.MaxConns),
		MinConns:        int32(cfg.MinConns),
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	}, logger)
}

// OpenBlobStore selects the configured document store.
func OpenBlobStore(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "gcs":
		return blobstore.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSPrefix)
	case "local", "":
		return blobstore.NewLocalStore(cfg.LocalDir)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// BuildPayrollService assembles the pipeline. Without an API key the service
// still lists files and parses spreadsheets, and extraction calls fail as
// upstream errors. The returned client is nil in that case.
func BuildPayrollService(
	ctx context.Context,
	cfg *config.Config,
	store repository.Store,
	blobs blobstore.Store,
	logger *slog.Logger,
) (*service.PayrollService, *extraction.GeminiClient, error) {
	tabularLocale, err := normalizer.ParseLocale(cfg.Reconcile.TabularLocale)
	if err != nil {
		return nil, nil, err
	}
	transferLocale, err := normalizer.ParseLocale(cfg.Reconcile.TransferLocale)
	if err != nil {
		return nil, nil, err
	}
	location, err := time.LoadLocation(cfg.Extraction.TimeZone)
	if err != nil {
		return nil, nil, fmt.Errorf("load time zone: %w", err)
	}

	var (
		vision extraction.VisionClient
		ocr    extraction.OCR
		gemini *extraction.GeminiClient
	)
	gemini, err = extraction.NewGeminiClient(ctx, cfg.Extraction.APIKey, cfg.Extraction.OCRModel)
	switch {
	case errors.Is(err, extraction.ErrClientNotConfigured):
		logger.Warn("GEMINI_API_KEY missing; document extraction disabled")
	case err != nil:
		return nil, nil, err
	default:
		vision, ocr = gemini, gemini
	}

	adapter := extraction.NewAdapter(vision, extraction.AdapterConfig{
		Model:             cfg.Extraction.Model,
		Timeout:           cfg.Extraction.Timeout,
		RequestsPerSecond: cfg.Extraction.RequestsPerSecond,
		Burst:             cfg.Extraction.Burst,
		Locale:            transferLocale,
		Location:          location,
	}, logger)

	perEntry, absolute, percent := cfg.Reconcile.Tolerances()
	reconciler := reconcile.New(store, reconcile.Tolerance{
		PerEntry: perEntry,
		Absolute: absolute,
		Percent:  percent,
	}, logger)

	svc := service.NewPayrollService(service.Deps{
		Store:      store,
		Blobs:      blobs,
		Extractor:  adapter,
		OCR:        ocr,
		Reconciler: reconciler,
		Sessions:   service.NewSessionCache(cfg.Preview.SessionTTL),
	}, service.Config{
		MaxConcurrent: cfg.Extraction.MaxConcurrent,
		MaxFiles:      cfg.Preview.MaxFiles,
		MaxFileSize:   cfg.Preview.MaxFileSize,
		SaveTimeout:   cfg.Preview.SaveTimeout,
		BlobTimeout:   cfg.Storage.WriteTimeout,
		TabularLocale: tabularLocale,
	}, logger)

	return svc, gemini, nil
}
