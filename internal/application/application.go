package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eugenenazirov/tvsubscribe/internal/api"
	"github.com/eugenenazirov/tvsubscribe/internal/config"
	"github.com/eugenenazirov/tvsubscribe/internal/douban"
	"github.com/eugenenazirov/tvsubscribe/internal/downloader"
	"github.com/eugenenazirov/tvsubscribe/internal/metrics"
	"github.com/eugenenazirov/tvsubscribe/internal/scheduler"
	"github.com/eugenenazirov/tvsubscribe/internal/settings"
	"github.com/eugenenazirov/tvsubscribe/internal/storage"
	"github.com/eugenenazirov/tvsubscribe/internal/tracker"
	"github.com/eugenenazirov/tvsubscribe/internal/web"
)

// App encapsulates the application dependencies, the HTTP server and the
// background workers.
type App struct {
	storage   *storage.FileStorage
	settings  *settings.Store
	scheduler *scheduler.Scheduler
	ui        *web.App
	handler   *api.Handler
	router    http.Handler
	logger    *zap.Logger
	server    *http.Server

	cancel  context.CancelFunc
	workers *errgroup.Group
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	store, err := storage.NewFileStorage(cfg.SubscriptionsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open subscriptions: %w", err)
	}

	// The scheduler is created after the settings store it reads from, so the
	// change callback reaches it through this variable.
	var sched *scheduler.Scheduler
	settingsStore, err := settings.Open(cfg.SettingsFile,
		settings.WithLogger(logger.Named("settings")),
		settings.WithOnChange(func(settings.Settings) {
			if sched != nil {
				sched.Kick()
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}

	trackerClient := tracker.New(tracker.WithBaseURL(cfg.TrackerURL))
	doubanClient, err := douban.New(douban.WithBaseURL(cfg.DoubanURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create douban client: %w", err)
	}

	fetcher := downloader.New(cfg.TorrentDir, trackerClient.DownloadURL, logger.Named("downloader"))
	sched = scheduler.New(store, settingsStore, trackerClient, fetcher, logger.Named("scheduler"))

	ui, uiHandler, err := web.Bootstrap(web.Dist())
	if err != nil {
		return nil, fmt.Errorf("failed to bootstrap web UI: %w", err)
	}

	handler := api.NewHandler(store, settingsStore, sched, doubanClient, api.WithHandlerLogger(logger.Named("api")))
	router := api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithMetrics(metrics.Handler()),
		api.WithFallback(uiHandler),
	)

	subs, err := store.List()
	if err != nil {
		return nil, err
	}
	metrics.Subscriptions.Set(float64(len(subs)))

	return &App{
		storage:   store,
		settings:  settingsStore,
		scheduler: sched,
		ui:        ui,
		handler:   handler,
		router:    router,
		logger:    logger,
		server:    NewServer(cfg, router),
	}, nil
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start launches the scheduler, the settings watcher and the HTTP server.
func (a *App) Start() error {
	if a.cancel != nil {
		return errors.New("application already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	workers, workerCtx := errgroup.WithContext(ctx)
	workers.Go(func() error {
		return a.scheduler.Run(workerCtx)
	})
	workers.Go(func() error {
		return a.settings.Watch(workerCtx)
	})
	a.cancel = cancel
	a.workers = workers

	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests, then stops the background workers and
// waits for them within ctx.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.stopWorkers())
}

// Close stops everything immediately.
func (a *App) Close() error {
	err := a.server.Close()
	return errors.Join(err, a.stopWorkers())
}

func (a *App) stopWorkers() error {
	var err error
	if a.cancel != nil {
		a.cancel()
		err = a.workers.Wait()
	}
	a.scheduler.Close()
	return err
}

// Server returns the HTTP server instance.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the root HTTP handler: API, metrics and web UI.
func (a *App) Handler() http.Handler {
	return a.router
}
