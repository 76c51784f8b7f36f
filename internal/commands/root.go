// Package commands implements the payrollctl command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/payroll-ingest/cmd/api"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/model"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/repository"
	"github.com/FACorreiaa/payroll-ingest/internal/domain/payroll/service"
	"github.com/FACorreiaa/payroll-ingest/pkg/config"
	"github.com/FACorreiaa/payroll-ingest/pkg/logging"
)

// Pipeline is what the commands need from the payroll service.
type Pipeline interface {
	Preview(ctx context.Context, req service.PreviewRequest) (*service.BatchPreviewResult, error)
	Confirm(ctx context.Context, req service.ConfirmRequest) (*service.BatchSaveResult, error)
	ListFiles(ctx context.Context, institutionID uuid.UUID, period model.Period) ([]repository.PdfFile, error)
}

// App is a wired pipeline plus the resources to release after a command.
type App struct {
	Pipeline Pipeline
	Migrate  func(ctx context.Context) error
	Close    func()
}

// AppFactory builds the App for one command run.
type AppFactory func(ctx context.Context, logger *slog.Logger) (*App, error)

type globalOptions struct {
	envFile string
	verbose bool
}

// NewRootCommand creates the root CLI command wired against the configured
// database, blob store and Gemini client.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	return newRootCommand(opts, func(ctx context.Context, logger *slog.Logger) (*App, error) {
		return buildApp(ctx, opts, logger)
	})
}

func newRootCommand(opts *globalOptions, factory AppFactory) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "payrollctl",
		Short: "Preview and save payroll contribution listings and bank receipts",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	rootCmd.AddCommand(
		newPreviewCommand(opts, factory),
		newSaveCommand(opts, factory),
		newFilesCommand(opts, factory),
		newMigrateCommand(opts, factory),
	)

	return rootCmd
}

func buildApp(ctx context.Context, opts *globalOptions, logger *slog.Logger) (*App, error) {
	cfg, err := config.LoadWithDotenv(opts.envFile)
	if err != nil {
		return nil, err
	}

	database, err := api.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	blobs, err := api.OpenBlobStore(ctx, cfg.Storage)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}
	store := repository.NewPostgresStore(database.Pool, logger)

	svc, _, err := api.BuildPayrollService(ctx, cfg, store, blobs, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	return &App{
		Pipeline: svc,
		Migrate:  database.RunMigrations,
		Close: func() {
			if closer, ok := blobs.(io.Closer); ok {
				_ = closer.Close()
			}
			database.Close()
		},
	}, nil
}

func commandLogger(cmd *cobra.Command, opts *globalOptions) *slog.Logger {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), level, "text")
}

// withApp runs fn against a freshly built App and releases it afterwards.
func withApp(cmd *cobra.Command, opts *globalOptions, factory AppFactory, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := factory(ctx, commandLogger(cmd, opts))
	if err != nil {
		return err
	}
	if app.Close != nil {
		defer app.Close()
	}
	return fn(ctx, app)
}

// scopeFlags are the institution and period every payroll command targets.
type scopeFlags struct {
	institution string
	period      string
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.institution, "institution", "", "institution id (required)")
	cmd.Flags().StringVar(&s.period, "period", "", "payroll period, e.g. 2024-03 or 2024-03-FOPID (required)")
	_ = cmd.MarkFlagRequired("institution")
	_ = cmd.MarkFlagRequired("period")
}

func (s *scopeFlags) parse() (uuid.UUID, model.Period, error) {
	institutionID, err := uuid.Parse(s.institution)
	if err != nil {
		return uuid.Nil, model.Period{}, fmt.Errorf("invalid --institution: %w", err)
	}
	period, err := model.ParsePeriod(s.period)
	if err != nil {
		return uuid.Nil, model.Period{}, fmt.Errorf("invalid --period: %w", err)
	}
	return institutionID, period, nil
}

// uploadFlags select how files are read into a preview.
type uploadFlags struct {
	allowOCR bool
	class    string
}

func (u *uploadFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&u.allowOCR, "allow-ocr", false, "retry unreadable scans through OCR")
	cmd.Flags().StringVar(&u.class, "class", "", "force the document class: APORTES or TRANSFERENCIA")
}

func (u *uploadFlags) readFiles(paths []string) ([]service.UploadedFile, error) {
	var class model.Classification
	switch c := model.Classification(strings.ToUpper(u.class)); c {
	case "":
	case model.ClassificationAportes, model.ClassificationTransferencia:
		class = c
	default:
		return nil, fmt.Errorf("invalid --class %q", u.class)
	}

	files := make([]service.UploadedFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		files = append(files, service.UploadedFile{Name: filepath.Base(p), Data: data, Class: class})
	}
	return files, nil
}
