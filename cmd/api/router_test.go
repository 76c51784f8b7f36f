package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	payrollhandler "github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/handler"
	"github.com/FACorreiaa/payroll-ingest/pkg/blobstore"
	"github.com/FACorreiaa/payroll-ingest/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			CORSOrigins:    []string{"http://localhost:3000"},
			MaxUploadBytes: 1 << 20,
		},
		Extraction: config.ExtractionConfig{
			Timeout:       time.Second,
			MaxConcurrent: 2,
			TimeZone:      "UTC",
		},
		Storage: config.StorageConfig{Backend: "local", LocalDir: t.TempDir(), WriteTimeout: time.Second},
		Reconcile: config.ReconcileConfig{
			PerEntryTolerance: "0.01",
			AbsoluteTolerance: "0",
			PercentTolerance:  "0",
			TabularLocale:     "ar",
			TransferLocale:    "ar",
		},
		Preview:       config.PreviewConfig{SessionTTL: time.Minute, MaxFiles: 5, MaxFileSize: 1 << 20},
		Observability: config.ObservabilityConfig{MetricsEnabled: true, ServiceName: "payroll-test"},
	}
}

func testDeps(t *testing.T) *Dependencies {
	t.Helper()
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	blobs, err := OpenBlobStore(context.Background(), cfg.Storage)
	require.NoError(t, err)

	svc, vision, err := BuildPayrollService(context.Background(), cfg, nil, blobs, logger)
	require.NoError(t, err)

	return &Dependencies{
		Config:         cfg,
		Logger:         logger,
		Blobs:          blobs,
		Vision:         vision,
		PayrollService: svc,
		PayrollHandler: payrollhandler.NewPayrollHandler(svc, cfg.Server.MaxUploadBytes),
	}
}

func TestBuildPayrollService_WithoutAPIKey(t *testing.T) {
	deps := testDeps(t)
	assert.Nil(t, deps.Vision)
	assert.NotNil(t, deps.PayrollService)
}

func TestOpenBlobStore(t *testing.T) {
	store, err := OpenBlobStore(context.Background(), config.StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &blobstore.LocalStore{}, store)

	_, err = OpenBlobStore(context.Background(), config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}

func TestRouter_Health(t *testing.T) {
	h := SetupRouter(testDeps(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRouter_ReadyWithoutDatabase(t *testing.T) {
	h := SetupRouter(testDeps(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fail", body["db"]["status"])
	assert.Equal(t, "warn", body["extraction"]["status"])
}

func TestRouter_Metrics(t *testing.T) {
	h := SetupRouter(testDeps(t))

	// Generate one observed request first.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRouter_APIRoutesAreMounted(t *testing.T) {
	h := SetupRouter(testDeps(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/previews/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_NOT_FOUND")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := SetupRouter(testDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/previews/abc/confirm", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
