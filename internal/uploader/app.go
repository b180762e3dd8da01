// Package uploader wires the daemon together: persistent task storage, the
// backend registry, the deferred-job runner, the scheduler and the progress
// publisher, plus the spool scanner that feeds freshly produced files into
// the pipeline. It also owns startup recovery and graceful shutdown.
package uploader

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dmarchuk/shuttersync/internal/common"
	"github.com/dmarchuk/shuttersync/internal/config"
	"github.com/dmarchuk/shuttersync/internal/filex"
	"github.com/dmarchuk/shuttersync/internal/logging"
	"github.com/dmarchuk/shuttersync/internal/netx"
	"github.com/dmarchuk/shuttersync/internal/provider"
	"github.com/dmarchuk/shuttersync/internal/provider/dropbox"
	"github.com/dmarchuk/shuttersync/internal/provider/gdrive"
	"github.com/dmarchuk/shuttersync/internal/provider/s3media"
	"github.com/dmarchuk/shuttersync/internal/publisher"
	"github.com/dmarchuk/shuttersync/internal/queue"
	"github.com/dmarchuk/shuttersync/internal/store"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	cfg       *config.Config
	logger    logging.Logger
	taskStore store.TaskStore
	settings  store.Settings
	ledger    *store.SpoolLedger
	registry  *provider.Registry
	runner    *queue.InProcRunner
	scheduler *queue.Scheduler
	publisher *publisher.Publisher
	db        *sql.DB
	now       func() time.Time
}

// NewApp builds the full pipeline from configuration. The prompt is how
// interactive authentication reaches the user; a daemon without a terminal
// passes one that fails.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger, prompt provider.TokenPrompt) (*App, error) {
	if err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if err := filex.EnsureDir(cfg.SpoolDir); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}

	kv := store.NewKVFile(filepath.Join(cfg.DataDir, "state.json"), logger)
	settings := store.NewKVSettings(kv)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		settings: settings,
		ledger:   store.NewSpoolLedger(kv),
		now:      time.Now,
	}

	switch cfg.StoreKind {
	case "sqlite":
		db, err := store.OpenSQLite(ctx, filepath.Join(cfg.DataDir, "tasks.db"))
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		app.db = db
		app.taskStore = store.NewSQLiteTaskStore(db)
	case "", "kvfile":
		app.taskStore = store.NewKVTaskStore(kv)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.StoreKind)
	}

	if cfg.SelectedBackend != "" && cfg.SelectedBackend != common.BackendNone {
		if err := settings.SetSelectedBackend(ctx, cfg.SelectedBackend); err != nil {
			return nil, fmt.Errorf("select backend: %w", err)
		}
	}

	tokens := provider.NewTokenStore(cfg.DataDir)

	app.registry = provider.NewRegistry()
	app.registry.Register(gdrive.New(tokens, prompt, logger, gdrive.Options{Endpoint: cfg.DriveEndpoint}))
	app.registry.Register(dropbox.New(tokens, prompt, logger, dropbox.Options{
		Endpoint: cfg.DropboxEndpoint,
		Commit: provider.CommitOptions{
			AutoRename:        cfg.DropboxAutoRename,
			MuteNotifications: cfg.DropboxMute,
		},
	}))

	s3cfg := s3media.Config{
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		KeyPrefix:    cfg.S3KeyPrefix,
	}
	s3client, err := s3media.NewClient(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("s3 init: %w", err)
	}
	app.registry.Register(s3media.New(s3client, s3cfg, logger, s3media.Options{}))

	app.runner = queue.NewInProcRunner(netx.Online, logger, cfg.MaxConcurrentUploads)
	app.scheduler = queue.NewScheduler(app.taskStore, app.registry, app.runner, logger, queue.Options{
		MaxRetries:     cfg.MaxRetries,
		CompletedGrace: cfg.CompletedGrace,
		Backoff: queue.BackoffPolicy{
			InitialInterval: cfg.RetryBackoffBase,
			MaxInterval:     cfg.RetryBackoffMax,
		},
	})
	app.runner.SetHandler(app.scheduler.HandleJob)

	app.publisher = publisher.New(app.taskStore, logger, cfg.PublishInterval)

	return app, nil
}

// Scheduler exposes the task state machine for front-ends embedding the app.
func (app *App) Scheduler() *queue.Scheduler { return app.scheduler }

// Publisher exposes the progress feed for front-ends embedding the app.
func (app *App) Publisher() *publisher.Publisher { return app.publisher }

// Registry exposes the configured backends.
func (app *App) Registry() *provider.Registry { return app.registry }

// Settings exposes the persisted daemon settings.
func (app *App) Settings() store.Settings { return app.settings }

// Tasks exposes the task store for read-only front-ends.
func (app *App) Tasks() store.TaskStore { return app.taskStore }

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// OnFileProduced schedules an upload for a newly produced file, honoring
// the selected backend and skipping paths the queue already tracks.
func (app *App) OnFileProduced(ctx context.Context, path string) error {
	backendID, err := app.settings.SelectedBackend(ctx)
	if err != nil {
		return err
	}
	if backendID == common.BackendNone {
		app.logger.Info(ctx, "no backend selected, leaving file in spool", "file", path)
		return nil
	}

	tracked, err := app.isTracked(ctx, path)
	if err != nil {
		return err
	}
	if tracked {
		return nil
	}

	if _, err := app.scheduler.ScheduleUpload(ctx, path, filepath.Base(path), backendID); err != nil {
		return err
	}
	return app.ledger.Add(ctx, path)
}

// isTracked reports whether the path has already been handed to the
// scheduler. The ledger, not the task list, is the memory: a completed
// task is pruned after its grace period and a failed one stays terminal,
// and neither may let the scanner enqueue the same spool file again.
func (app *App) isTracked(ctx context.Context, path string) (bool, error) {
	handled, err := app.ledger.Contains(ctx, path)
	if err != nil {
		return false, err
	}
	if handled {
		return true, nil
	}
	tasks, err := app.taskStore.GetAll(ctx)
	if err != nil {
		return false, err
	}
	// tasks scheduled by other entry points (pre-ledger state files,
	// direct Scheduler use) still count as handled
	for _, t := range tasks {
		if t.FilePath == path {
			return true, nil
		}
	}
	return false, nil
}

// Run starts the pipeline and blocks until the context is cancelled or a
// termination signal arrives: recovery sweep first, then the publisher and
// the spool scanner, then a drained shutdown of the job runner.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting upload daemon", "spool", app.cfg.SpoolDir, "store", app.cfg.StoreKind)

	app.initSignalHandler(cancelFunc)
	app.runner.SetBaseContext(ctx)

	if _, err := app.scheduler.RecoverySweep(ctx); err != nil {
		return fmt.Errorf("recovery sweep: %w", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.publisher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.runScanner(ctx)
	}()

	<-ctx.Done()
	app.logger.Info(ctx, "shutting down")

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if !app.runner.Shutdown(shutdownCtx) {
		app.logger.Warn(shutdownCtx, "shutdown timed out with jobs still running")
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			return fmt.Errorf("close db: %w", err)
		}
	}
	return nil
}
