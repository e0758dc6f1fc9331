package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tonero-cloud/safeguard/internal/app"
	"github.com/tonero-cloud/safeguard/internal/config"
	"github.com/tonero-cloud/safeguard/internal/control"
)

func main() {
	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "Config file (default is $HOME/.config/safeguard/config.json)")
	flag.StringVar(&addr, "addr", "", "Control API address (overrides control_addr)")
	flag.Parse()

	if cfgPath == "" {
		var err error
		if cfgPath, err = config.DefaultPath(); err != nil {
			fatal("Failed to resolve config path", err)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fatal("Failed to read environment", err)
	}
	if addr == "" {
		addr = cfg.ControlAddr
	}

	var level slog.LevelVar
	level.Set(cfg.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.WithLogger(logger))
	if err != nil {
		fatal("Failed to init app", err)
	}
	a.Start(ctx)

	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			if err := next.Validate(); err != nil {
				logger.Warn("ignoring invalid config change", "error", err)
				return
			}
			level.Set(next.Level())
			a.Reconfigure(next)
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("config watch stopped", "error", err)
		}
	}()

	srv := control.NewServer(addr, &control.Handler{
		Reports:  a.Queue,
		Pings:    a.Pings,
		Drainer:  a.Processor,
		Session:  a.Credentials,
		Tracker:  a.Tracker,
		Location: a.Location,
		Token:    cfg.ControlToken,
		Logger:   logger,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("control api failed", "error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control api shutdown", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Warn("closing store", "error", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
