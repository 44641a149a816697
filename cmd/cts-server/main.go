package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tokmesh-cts/internal/infra/buildinfo"
	"github.com/yndnr/tokmesh-cts/internal/infra/confloader"
	"github.com/yndnr/tokmesh-cts/internal/infra/shutdown"
	"github.com/yndnr/tokmesh-cts/internal/server/config"
	"github.com/yndnr/tokmesh-cts/internal/server/ctsserver"
	"github.com/yndnr/tokmesh-cts/internal/telemetry/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "cts-server",
		Usage:   "Run a core token store node",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"CTS_CONFIG"},
			},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, c.String("config"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile string) error {
	loader := confloader.NewLoader(
		confloader.WithConfigFile(configFile),
		confloader.WithDefaults(config.DefaultMap()),
	)
	cfg := new(config.ServerConfig)
	if err := loader.Load(cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	info := buildinfo.Get()
	log.Info("starting cts-server",
		"version", info.Version,
		"commit", info.Commit,
		"go", info.GoVersion,
		"config", configFile)

	h := shutdown.NewHandler(shutdownTimeout, log)
	srv, err := ctsserver.New(cfg, log, h)
	if err != nil {
		return err
	}

	if configFile != "" {
		if err := watchConfig(loader, h, log); err != nil {
			log.Warn("configuration hot reload disabled", "error", err)
		}
	}

	waitCtx, stopWait := context.WithCancelCause(ctx)
	defer stopWait(nil)
	runCtx, stopRun := context.WithCancel(ctx)
	runDone := make(chan struct{})
	var runErr error
	go func() {
		defer close(runDone)
		if runErr = srv.Run(runCtx); runErr != nil {
			stopWait(runErr)
		}
	}()
	// Registered last so the loops stop before the components they use.
	h.OnShutdown("run loops", func(ctx context.Context) error {
		stopRun()
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	err = h.Wait(waitCtx)
	<-runDone
	if err = errors.Join(runErr, err); err != nil {
		log.Error("server stopped with errors", "error", err)
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// watchConfig reloads the configuration file on change. Only the log level
// takes effect without a restart.
func watchConfig(loader *confloader.Loader, h *shutdown.Handler, log *slog.Logger) error {
	w, err := confloader.NewWatcher(loader.FilePath(), confloader.WithWatcherLogger(log))
	if err != nil {
		return err
	}
	w.OnChange(func(path string) {
		cfg := new(config.ServerConfig)
		if err := loader.Load(cfg); err != nil {
			log.Warn("configuration reload failed", "path", path, "error", err)
			return
		}
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			log.Warn("configuration reload rejected", "path", path, "error", err)
			return
		}
		log.Info("configuration reloaded", "path", path, "log_level", cfg.Log.Level)
	})
	w.StartAsync()
	h.OnClose("config watcher", w.Stop)
	return nil
}
