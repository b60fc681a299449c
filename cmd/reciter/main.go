// Command reciter is an interactive drill for memorising question and
// answer items: it reads answers aloud in grouped rounds and checks spoken
// or typed recitations against them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/reciter/internal/app"
	"github.com/MrWong99/reciter/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("reciter", version)
		return 0
	}

	cfg, watchPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reciter: %v\n", err)
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("reciter starting",
		"version", version,
		"config", *configPath,
		"collection", cfg.Store.CollectionFile,
		"postgres", cfg.Store.PostgresDSN != "",
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg,
		app.WithConfigPath(watchPath),
		app.WithLogLevel(level),
		app.WithVersion(version),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path. A missing file falls back to the defaults and
// disables hot reload; any other failure is returned.
func loadConfig(path string) (*config.Config, string, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "reciter: config file %q not found, using defaults (see configs/example.yaml)\n", path)
		return config.Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func logLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
