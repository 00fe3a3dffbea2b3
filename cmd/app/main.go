package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trade_sim/internal/app"
	"trade_sim/internal/infra"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file (.yaml or .toml); empty uses defaults and environment")
	pprofAddr := flag.String("pprof", "localhost:6060", "pprof listen address; empty disables it")
	flag.Parse()

	// 1. Load Config
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("path", *configPath), slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	// 3. Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go func() {
			slog.Info("Pprof server started", slog.String("addr", *pprofAddr))
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 4. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. System Bootstrapping
	bootstrap := app.NewBootstrap(cfg)
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Session ended", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("Shutting down gracefully...")
}
