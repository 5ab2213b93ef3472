package app

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dshills/parlor/internal/catalog"
	"github.com/dshills/parlor/internal/config"
	"github.com/dshills/parlor/internal/pack"
	"github.com/dshills/parlor/internal/pack/sandbox"
	"github.com/dshills/parlor/internal/store"
)

// App is the parlor host process. It owns the core store, the per-pack
// storage manager, the catalogue registry, and the pack manager, and
// coordinates their lifecycles.
type App struct {
	cfg    *config.Config
	logger *Logger

	logFile *os.File

	store   *store.Store
	storage *sandbox.StorageManager
	auth    *SessionAuth
	catalog *catalog.Registry
	manager *pack.Manager
	watcher *pack.Watcher

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

// Options configures the host.
type Options struct {
	// ConfigPath is the path to the configuration file. Empty means the
	// default location.
	ConfigPath string

	// DataDir overrides the configured data directory.
	DataDir string

	// PackPaths overrides the configured pack search paths.
	PackPaths []string

	// LogOutput overrides the log destination. Takes precedence over
	// the configured log file; mainly for tests.
	LogOutput io.Writer
}

// New creates the host and initializes every component in dependency
// order. A failed New leaves nothing running.
func New(opts Options) (*App, error) {
	app := &App{
		done: make(chan struct{}),
	}

	if err := app.bootstrap(opts); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// bootstrap initializes components in dependency order.
func (app *App) bootstrap(opts Options) error {
	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if opts.DataDir != "" {
		cfg.Paths.DataDir = opts.DataDir
	}
	if len(opts.PackPaths) > 0 {
		cfg.Packs.Paths = opts.PackPaths
	}
	app.cfg = cfg

	// 2. Logger
	output := opts.LogOutput
	if output == nil && cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return &InitError{Component: "log file", Err: err}
		}
		app.logFile = f
		output = f
	}
	loggerCfg := LoggerConfig{
		Level:  ParseLogLevel(cfg.Logging.Level),
		Prefix: "parlor",
	}
	if output != nil {
		loggerCfg.Output = output
	}
	app.logger = NewLogger(loggerCfg)

	// 3. Data directories
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return &InitError{Component: "data dir", Err: err}
	}
	if err := os.MkdirAll(cfg.PackDataDir(), 0o755); err != nil {
		return &InitError{Component: "data dir", Err: err}
	}

	// 4. Core store
	app.store, err = store.Open(ctx, cfg.Paths.DataDir)
	if err != nil {
		return &InitError{Component: "core store", Err: err}
	}

	// 5. Per-pack storage
	app.storage = sandbox.NewStorageManager(cfg.PackDataDir())

	// 6. Auth provider
	app.auth = NewSessionAuth(app.store)

	// 7. Pack manager
	mc, err := cfg.ManagerConfig()
	if err != nil {
		return &InitError{Component: "limits", Err: err}
	}
	app.manager = pack.NewManager(mc,
		pack.WithManagerStorage(app.storage),
		pack.WithManagerCoreDB(app.store.DB()),
		pack.WithManagerAuth(app.auth),
		pack.WithManagerLogger(app.logger.WithComponent("packs")),
	)

	// 8. Catalogue registry, sharing the manager's discovery cache
	app.catalog = catalog.NewRegistry(app.manager.Loader())
	if err := app.catalog.LoadFile(cfg.Paths.Catalog); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return &InitError{Component: "catalogue", Err: err}
		}
		app.logger.Info("no catalogue file at %s", cfg.Paths.Catalog)
	}

	// 9. Watcher for hot reload
	if cfg.Packs.Watch {
		app.watcher, err = pack.NewWatcher(app.manager,
			pack.WithWatcherLogger(app.logger.WithComponent("watcher")),
		)
		if err != nil {
			return &InitError{Component: "watcher", Err: err}
		}
	}

	return nil
}

// Run loads the installed packs, starts the watcher if enabled, and
// blocks until Shutdown is called. Resources are released before Run
// returns.
func (app *App) Run() error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	if err := app.manager.LoadAll(context.Background()); err != nil {
		// Broken packs must not take the host down with them.
		app.logger.Warn("some packs failed to load: %v", err)
	}

	for _, entry := range app.catalog.Missing() {
		app.logger.Warn("catalogue entry %s references missing pack %s", entry.Slug, entry.Pack)
	}

	if app.watcher != nil {
		if err := app.watcher.Start(); err != nil {
			app.logger.Warn("pack watcher failed to start: %v", err)
		}
	}

	app.logger.Info("parlor up: %d packs loaded, %d active", app.manager.Count(), app.manager.CountActive())

	<-app.done
	return app.Close()
}

// Shutdown signals Run to stop. Safe to call from any goroutine and
// more than once.
func (app *App) Shutdown() {
	app.stopOnce.Do(func() {
		close(app.done)
	})
}

// Close releases every resource in reverse initialization order. It is
// idempotent; Run calls it on the way out, and callers that never Run
// should call it themselves.
func (app *App) Close() error {
	app.closeOnce.Do(func() {
		app.closeErr = app.shutdown()
	})
	return app.closeErr
}

// shutdown performs cleanup in reverse initialization order.
func (app *App) shutdown() error {
	el := NewErrorList()

	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			el.Add(NewComponentError("watcher", "close", err))
		}
	}

	if app.manager != nil {
		if err := app.manager.UnloadAll(context.Background()); err != nil {
			el.Add(NewComponentError("packs", "unload", err))
		}
	}

	if app.storage != nil {
		if err := app.storage.CloseAll(); err != nil {
			el.Add(NewComponentError("pack storage", "close", err))
		}
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			el.Add(NewComponentError("core store", "close", err))
		}
	}

	if app.logFile != nil {
		if err := app.logFile.Close(); err != nil {
			el.Add(NewComponentError("log file", "close", err))
		}
	}

	return el.AsError()
}

// IsRunning returns true while Run is blocked.
func (app *App) IsRunning() bool {
	return app.running.Load()
}

// Config returns the loaded configuration.
func (app *App) Config() *config.Config {
	return app.cfg
}

// Logger returns the host logger.
func (app *App) Logger() *Logger {
	return app.logger
}

// Store returns the core store.
func (app *App) Store() *store.Store {
	return app.store
}

// Storage returns the per-pack storage manager.
func (app *App) Storage() *sandbox.StorageManager {
	return app.storage
}

// Auth returns the session auth provider.
func (app *App) Auth() *SessionAuth {
	return app.auth
}

// Catalog returns the catalogue registry.
func (app *App) Catalog() *catalog.Registry {
	return app.catalog
}

// Manager returns the pack manager.
func (app *App) Manager() *pack.Manager {
	return app.manager
}

// Watcher returns the pack watcher, or nil when watching is disabled.
func (app *App) Watcher() *pack.Watcher {
	return app.watcher
}
