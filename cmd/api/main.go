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

	"crm-platform/internal/audit"
	"crm-platform/internal/auth"
	"crm-platform/internal/config"
	"crm-platform/internal/conversation"
	"crm-platform/internal/gateway"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/instance"
	"crm-platform/internal/jobs"
	"crm-platform/internal/platform"
	"crm-platform/internal/realtime"
	"crm-platform/internal/tenant"
	"crm-platform/internal/upstream"
	"crm-platform/internal/webhook"
	"crm-platform/migrations"
	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFile(); err != nil {
		slog.Error("env file load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.NewWithOptions(cfg.App.Env, logger.Options{File: cfg.Log.File})
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

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

	if err := migrations.Apply(rootCtx, db); err != nil {
		log.Error("schema apply failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Services
	tenants := tenant.NewStore(tenant.NewPostgresRepo(db), tenant.Defaults{
		PlatformBaseURL:   cfg.Platform.BaseURL,
		GatewayBaseURL:    cfg.Gateway.BaseURL,
		GatewayAdminToken: cfg.Gateway.AdminToken,
		MaxInstances:      cfg.Workers.DefaultMaxInstances,
	})
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	broadcaster := realtime.NewRedisBroadcaster(rdb)

	gw := gateway.NewHTTPClient(upstream.Options{System: "gateway", Timeout: cfg.Gateway.Timeout})
	pf := platform.NewHTTPClient(upstream.Options{System: "platform", Timeout: cfg.Platform.Timeout})

	instances := instance.NewPostgresRepo(db)
	provisioner := instance.NewProvisioner(instances, tenants, gw, pf, auditSvc, instance.WebhookTarget{
		PublicBaseURL: cfg.Webhook.PublicBaseURL,
		Secret:        cfg.Webhook.Secret,
	})
	monitor := instance.NewMonitor(instances, tenants, gw, auditSvc, cfg.Workers.PollConcurrency)

	reconciler := conversation.NewReconciler(
		conversation.NewPostgresRepo(db),
		tenants,
		pf,
		broadcaster,
		conversation.NewRedisGate(rdb, cfg.Sync.GateTTL),
		auditSvc,
		conversation.Options{PageSize: cfg.Sync.PageSize, MaxPages: cfg.Sync.MaxPages},
	)
	ingestor := webhook.NewIngestor(webhook.NewPostgresRepo(db), webhook.NewPlatformHandler(reconciler), auditSvc, webhook.Options{
		PendingGrace:      cfg.Workers.PendingGrace,
		ProcessingTimeout: cfg.Workers.ProcessingTimeout,
	})

	var sched *jobs.Scheduler
	if cfg.Workers.Enabled {
		sched, err = jobs.New(log, jobs.Config{
			RetrySpec:      cfg.Workers.RetrySpec,
			StatusPollSpec: cfg.Workers.StatusPollSpec,
		}, ingestor, monitor)
		if err != nil {
			log.Error("jobs init failed", "err", err)
			os.Exit(1)
		}
		sched.Start()
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Instances:     provisioner,
		Monitor:       monitor,
		Conversations: reconciler,
		Webhooks:      ingestor,
		Tenants:       tenants,
		Audit:         auditSvc,
		Realtime:      broadcaster,
	}, auth.Authenticate(verifier, nil), cfg.Webhook.Secret, func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the realtime websocket is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "workers", cfg.Workers.Enabled)
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
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Error("jobs shutdown failed", "err", err)
		}
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
