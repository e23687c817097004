package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wpeva/new-undetect-browser-sub005/internal/adaptive"
	"github.com/wpeva/new-undetect-browser-sub005/internal/browser"
	"github.com/wpeva/new-undetect-browser-sub005/internal/detect"
	"github.com/wpeva/new-undetect-browser-sub005/internal/server"
	"github.com/wpeva/new-undetect-browser-sub005/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to server config YAML/JSON")
	listen := flag.String("listen", "", "Optional listen address override")
	flag.Parse()

	cfg, err := server.LoadServerConfig(*configPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openStore(rootCtx, cfg)
	if err != nil {
		slog.Error("open store failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	obs, err := server.SetupObservability(rootCtx, cfg.Observer)
	if err != nil {
		slog.Error("setup observability failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(ctx)
	}()

	client := browser.NewClient(browser.Config{
		BaseURL: cfg.Browser.BaseURL,
		APIKey:  cfg.Browser.APIKey,
		Timeout: time.Duration(cfg.Browser.TimeoutSec) * time.Second,
	})
	sessions := func(ctx context.Context) (browser.Session, func(), error) {
		return client, nil, nil
	}

	suite := detect.NewSuite(detect.SuiteOptions{
		ProbeTimeout: time.Duration(cfg.Detection.ProbeTimeoutSec) * time.Second,
		Logger:       slog.Default(),
	})
	optimizerTimeout := time.Duration(cfg.Adaptive.OptimizerTimeoutSec) * time.Second
	optimizer := adaptive.NewProcessOptimizer(cfg.Adaptive.OptimizerCommand, optimizerTimeout, slog.Default())

	controller, err := adaptive.NewController(rootCtx, adaptive.ControllerOptions{
		Suite:                 suite,
		Optimizer:             optimizer,
		Store:                 st,
		Logger:                slog.Default(),
		Metrics:               obs,
		MinImprovementPercent: cfg.Adaptive.MinImprovementPercent,
		AutoDeploy:            cfg.Adaptive.AutoDeployEnabled(),
		ExcellentScore:        cfg.Adaptive.ExcellentScore,
		IterationBudget:       cfg.Adaptive.IterationBudget,
		TimeBudget:            optimizerTimeout,
	})
	if err != nil {
		slog.Error("build controller failed", "error", err)
		os.Exit(1)
	}
	defer controller.StopSchedule()

	if cfg.Adaptive.ScheduleHours > 0 {
		interval := time.Duration(cfg.Adaptive.ScheduleHours * float64(time.Hour))
		if err := controller.StartSchedule(interval, sessions); err != nil {
			slog.Error("start schedule failed", "error", err)
			os.Exit(1)
		}
		slog.Info("schedule started", "interval_hours", cfg.Adaptive.ScheduleHours)
	}

	auth := server.NewAuth(cfg)
	api := server.NewAPI(auth, controller, sessions, obs, slog.Default())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	slog.Info("adaptd listening",
		"listen", cfg.ListenAddr,
		"browser", cfg.Browser.BaseURL,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// openStore picks PostgreSQL when a DSN is configured and the local file
// store otherwise.
func openStore(ctx context.Context, cfg server.ServerConfig) (adaptive.Store, func(), error) {
	if cfg.Database.DSN != "" {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, err
		}
		if err := store.RunMigrations(ctx, pool, cfg.Database.MigrationsPath); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store.NewPgStore(pool, cfg.Storage.MaxHistory), pool.Close, nil
	}
	fs, err := store.NewFileStore(cfg.Storage.Dir, cfg.Storage.MaxHistory)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}
