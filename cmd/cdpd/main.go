package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/cdpusd/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one keeper cycle and exit")
	noKeeper := flag.Bool("no-keeper", false, "serve the API without running the keeper loop")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the keeper report as a full table")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("cdpd starting",
		"config", *configPath,
		"oracle", cfg.Oracle.Mode,
		"storage", cfg.Storage.DSN,
		"http", cfg.HTTP.Addr,
		"interval", cfg.KeeperInterval(),
		"once", *once,
		"no_keeper", *noKeeper,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := deploy(ctx, cfg)
	if err != nil {
		slog.Error("failed to build deployment", "err", err)
		os.Exit(1)
	}
	defer d.Close()

	if err := d.seed(ctx); err != nil {
		slog.Error("failed to seed deployment", "err", err)
		os.Exit(1)
	}
	slog.Info("deployment ready",
		"engine", d.engine.Address().Hex(),
		"keeper", d.keeperAddr.Hex(),
		"venue", d.venue.Address().Hex())

	k, err := d.newKeeper(*table)
	if err != nil {
		slog.Error("failed to build keeper", "err", err)
		os.Exit(1)
	}

	if *once {
		if !runKeeperCycle(ctx, k, 1) {
			os.Exit(1)
		}
		return
	}

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		h, err := d.handler()
		if err != nil {
			slog.Error("failed to build http api", "err", err)
			os.Exit(1)
		}
		srv = &http.Server{Addr: cfg.HTTP.Addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http api failed", "err", err)
				cancel()
			}
		}()
	}

	if *noKeeper {
		<-ctx.Done()
	} else {
		runKeeper(ctx, k, cfg.KeeperInterval())
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http api shutdown", "err", err)
		}
	}
	slog.Info("cdpd stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		// rotación por tamaño; el informe del keeper sigue yendo a stdout
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
}
