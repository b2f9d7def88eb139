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

	"callbridge/internal/config"
	"callbridge/internal/events"
	"callbridge/internal/httpapi"
	"callbridge/internal/installation"
	"callbridge/internal/orchestrator"
	"callbridge/internal/vonage"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local development convenience; the file is absent in production.
	_ = godotenv.Load()

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

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	signer, err := vonage.NewSigner(cfg.Voice.ApplicationID, cfg.Voice.PrivateKey, cfg.Voice.Token)
	if err != nil {
		log.Error("provider credential init failed", "err", err)
		os.Exit(1)
	}
	provider := vonage.NewClient(cfg.Voice.BaseURL, signer)

	installations := installation.NewService(installation.NewPostgresRepo(db), log)
	callRepo := events.NewPostgresRepo(db)
	ingestor := events.NewIngestor(callRepo, log)

	// Pending calls and leg correlations live in process memory by
	// default; Redis-backed stores let multiple backend instances share
	// them when the webhook traffic is load-balanced.
	var pending orchestrator.PendingCalls = orchestrator.NewMemoryPendingCalls()
	var legs orchestrator.LegLinks = orchestrator.NewMemoryLegLinks()
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		pending = orchestrator.NewRedisPendingCalls(rdb)
		legs = orchestrator.NewRedisLegLinks(rdb)
	}

	orch := orchestrator.NewService(provider, installations, callRepo, pending, legs, orchestrator.Options{
		FromNumber:   cfg.Voice.FromNumber,
		TestNumber:   cfg.Voice.TestNumber,
		EventURL:     cfg.Voice.EventURL,
		HoldMusicURL: cfg.Voice.HoldMusicURL,
	}, log)
	defer orch.Close()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Installations: installations,
		Orchestrator:  orch,
		Ingestor:      ingestor,
		Tokens:        signer,
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
