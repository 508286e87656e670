package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/evogatehq/evogate/internal/agent"
	"github.com/evogatehq/evogate/internal/cache"
	"github.com/evogatehq/evogate/internal/config"
	"github.com/evogatehq/evogate/internal/evolution"
	"github.com/evogatehq/evogate/internal/gateway"
	"github.com/evogatehq/evogate/internal/pool"
	"github.com/evogatehq/evogate/internal/providers"
	"github.com/evogatehq/evogate/internal/runtime"
	"github.com/evogatehq/evogate/internal/store"
	"github.com/evogatehq/evogate/internal/store/pg"
)

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// System prompt + LLM provider behind the session invoker.
	prompt, err := agent.LoadPrompt(cfg.Provider.PromptFile)
	if err != nil {
		slog.Error("failed to load system prompt", "path", cfg.Provider.PromptFile, "error", err)
		os.Exit(1)
	}
	provider := providers.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	invoker := agent.NewChatInvoker(provider, prompt, cfg.Provider.MaxTokens)
	if err := agent.WatchPrompt(ctx, cfg.Provider.PromptFile, invoker); err != nil {
		slog.Warn("prompt watcher unavailable", "error", err)
	}

	// Persistence is optional: no DSN, no store.
	var st store.Store
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		st = pgStore
	} else {
		slog.Warn("EVOGATE_POSTGRES_DSN not set, conversation persistence disabled")
	}

	// Core: background loop, bot pool, inactivity monitor, customer cache.
	loop := runtime.NewLoop(256)

	botPool, err := pool.New(ctx, invoker, pool.Config{
		MinIdle:  cfg.Pool.MinIdle,
		MaxTotal: cfg.Pool.MaxTotal,
	})
	if err != nil {
		slog.Error("failed to initialize bot pool", "error", err)
		os.Exit(1)
	}

	monitor := pool.NewMonitor(botPool, cfg.Pool.SweepInterval.Std(), cfg.Pool.InactivityTimeout.Std())
	monitor.Start(ctx)

	customers := cache.NewCustomers(cfg.Cache.TTL.Std())

	client := evolution.NewClient(
		cfg.Evolution.APIURL, cfg.Evolution.APIKey, cfg.Evolution.Instance,
		cfg.Evolution.SendRatePerSec, cfg.Evolution.SendBurst,
	)

	mgr := gateway.New(loop, botPool, monitor, customers, st, client, invoker, gateway.Config{
		ResponseWait:  cfg.Gateway.ResponseWait.Std(),
		ShutdownGrace: cfg.Gateway.ShutdownGrace.Std(),
	})

	listener := evolution.NewListener(
		cfg.Evolution.APIURL, cfg.Evolution.APIKey, cfg.Evolution.Instance,
		mgr.HandleEvent,
	)
	if err := listener.Start(ctx); err != nil {
		slog.Error("failed to start evolution listener", "error", err)
		os.Exit(1)
	}

	slog.Info("evogate gateway started",
		"version", Version,
		"instance", cfg.Evolution.Instance,
		"pool_min_idle", cfg.Pool.MinIdle,
		"pool_max_total", cfg.Pool.MaxTotal,
		"persistence", st != nil,
	)

	// Graceful shutdown: stop taking events, drain in-flight work, close
	// every bot, stop the loop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	listener.Stop()
	mgr.Shutdown(context.Background())
	cancel()
}
