package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/tvsubscribe/internal/application"
	"github.com/eugenenazirov/tvsubscribe/internal/config"
	"github.com/eugenenazirov/tvsubscribe/internal/logging"
)

var signalNotify = signal.Notify

// stopper is satisfied by both *application.App and *http.Server.
type stopper interface {
	Shutdown(ctx context.Context) error
	Close() error
}

type serveFlags struct {
	configFile     *string
	port           *string
	dataDir        *string
	logLevel       *string
	rateLimitRPS   *float64
	rateLimitBurst *int
}

func main() {
	kingpinApp := kingpin.New("tvsubscribe", "TV series subscription service - finds new episodes on the tracker and hands them to Transmission")

	serveCmd := kingpinApp.Command("serve", "Run the subscription service and web UI").Default()
	flags := serveFlags{
		configFile:     serveCmd.Flag("config", "Path to YAML configuration file").String(),
		port:           serveCmd.Flag("port", "HTTP port exposed by the service").String(),
		dataDir:        serveCmd.Flag("data-dir", "Directory holding settings, subscriptions and torrent files").String(),
		logLevel:       serveCmd.Flag("log-level", "Log level (debug, info, warn, error)").String(),
		rateLimitRPS:   serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64(),
		rateLimitBurst: serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter").Default("-1").Int(),
	}

	cli := registerClientCommands(kingpinApp)

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))
	if command == serveCmd.FullCommand() {
		serve(flags)
		return
	}

	if err := cli.run(context.Background(), command, os.Stdout); err != nil {
		kingpinApp.Fatalf("%v", err)
	}
}

func serve(flags serveFlags) {
	overrides := &config.CLIOverrides{
		ConfigFile: *flags.configFile,
		Port:       flags.port,
		DataDir:    flags.dataDir,
		LogLevel:   flags.logLevel,
	}

	if *flags.rateLimitRPS >= 0 {
		overrides.RateLimitRPS = flags.rateLimitRPS
	}

	if *flags.rateLimitBurst >= 0 {
		overrides.RateLimitBurst = flags.rateLimitBurst
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

func shutdown(server stopper, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
