package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchcall/internal/auth"
	"matchcall/internal/calls"
	"matchcall/internal/config"
	"matchcall/internal/credits"
	"matchcall/internal/httpapi"
	"matchcall/internal/monitoring"
	"matchcall/internal/telephony"
	"matchcall/internal/users"
	"matchcall/pkg/logger"
	"matchcall/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.New(registry)

	creditsSvc := credits.NewService(credits.NewPostgresRepo(db))
	callsSvc := calls.NewService(calls.Params{
		Repo:               calls.NewPostgresRepo(db),
		Credits:            creditsSvc,
		Users:              users.NewPostgresDirectory(db),
		Gateway:            telephony.NewHTTPGateway(cfg.Gateway),
		Tx:                 calls.NewPostgresTxRunner(db),
		Logger:             log,
		Metrics:            metrics,
		CostPerMinute:      cfg.Billing.CostPerMinute,
		SettlementDisabled: cfg.Billing.SettlementDisabled,
		GatewayCallerID:    cfg.Gateway.CallerID,
		CallbackURL:        cfg.Gateway.CallbackURL,
	})

	sweeper := calls.NewSweeper(callsSvc, rdb, cfg.Sweep.Interval, cfg.Sweep.StuckAfter, log)
	sweeper.Start()
	defer sweeper.Stop()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		handlers: httpapi.Handlers{Calls: callsSvc, Credits: creditsSvc},
		authMW:   auth.RequireAccessToken(verifier),
		db:       db,
		rdb:      rdb,
		registry: registry,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
