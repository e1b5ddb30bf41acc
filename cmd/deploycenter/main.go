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

	"github.com/irgordon/deploycenter/internal/api/handlers"
	apimw "github.com/irgordon/deploycenter/internal/api/middleware"
	"github.com/irgordon/deploycenter/internal/api/router"
	"github.com/irgordon/deploycenter/internal/config"
	"github.com/irgordon/deploycenter/internal/core/domain"
	"github.com/irgordon/deploycenter/internal/crypto"
	"github.com/irgordon/deploycenter/internal/db/memstore"
	"github.com/irgordon/deploycenter/internal/db/postgres"
	"github.com/irgordon/deploycenter/internal/gitexec"
	"github.com/irgordon/deploycenter/internal/notify"
	"github.com/irgordon/deploycenter/internal/orchestrator"
	"github.com/irgordon/deploycenter/internal/pipeline"
	"github.com/irgordon/deploycenter/internal/queue"
	"github.com/irgordon/deploycenter/internal/sshkey"
	"github.com/irgordon/deploycenter/internal/syncer"
	"github.com/irgordon/deploycenter/internal/telemetry"
	"github.com/irgordon/deploycenter/internal/workspace"
)

// storage groups the persistence views the rest of the wiring needs, so the
// postgres and in-memory backends are interchangeable below.
type storage struct {
	projects    handlers.ProjectStore
	deployments domain.DeploymentRepository
	steps       domain.StepRepository
	audit       domain.AuditSink
	close       func()
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("booting deploy center")

	cfg := config.Load()

	cryptoService, err := crypto.NewAESService(cfg.EncryptionKeyHex)
	if err != nil {
		logger.Error("invalid encryption key", slog.Any("error", err))
		os.Exit(1)
	}

	store := openStorage(cfg, logger)
	defer store.close()

	keys := sshkey.NewManager(cryptoService, logger)
	if err := keys.Init(); err != nil {
		logger.Error("ssh key directory unavailable", slog.Any("error", err))
		os.Exit(1)
	}
	defer keys.Close()

	hub := telemetry.NewHub()
	dispatcher := queue.NewDispatcher(logger, nil)
	runner := pipeline.NewRunner(store.steps, hub, logger)
	workspaces := workspace.NewManager(cfg.DeploymentsPath, cfg.MinFreeDiskGB, cfg.KeepDeployments, logger)
	notifier := notify.NewSender(cfg.NotifyWebhookURL, logger)

	// Leftovers from a previous unclean shutdown.
	workspaces.SweepQuarantine()

	orch := orchestrator.New(orchestrator.Deps{
		Projects:    store.projects,
		Deployments: store.deployments,
		Steps:       store.steps,
		Audit:       store.audit,
		Hub:         hub,
		Notifier:    notifier,
		Dispatcher:  dispatcher,
		Runner:      runner,
		Keys:        keys,
		Git:         gitexec.NewCLI(),
		Workspaces:  workspaces,
		Publisher:   syncer.New(logger),
		Logger:      logger,
	})

	mux := router.New(router.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Auth:           apimw.NewAuth(cfg.JWTSecret, logger),
		WebhookRL:      apimw.NewWebhookRateLimit(),
		Projects:       handlers.NewProjectHandler(store.projects, logger),
		Deployments:    handlers.NewDeploymentHandler(orch, store.deployments, store.steps, logger),
		Webhooks:       handlers.NewWebhookHandler(store.projects, orch, logger),
		WS:             handlers.NewWebSocketHandler(hub, logger),
		SSE:            handlers.NewSSEHandler(hub, logger),
		Logger:         logger,
	})

	// No WriteTimeout: the SSE and websocket routes hold their connection
	// open for the lifetime of a deployment.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("deploy center api active", slog.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server crashed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", slog.Any("error", err))
	}

	// In-flight deployments finish; pending units run to completion so the
	// database is never left with orphaned queued records.
	logger.Info("draining deployment queue")
	orch.Wait()
	logger.Info("shutdown complete")
}

// openStorage connects to postgres, falling back to the in-memory store in
// development so the controller runs without a database.
func openStorage(cfg *config.Config, logger *slog.Logger) storage {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		if cfg.Environment == "production" {
			logger.Error("database unreachable", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Warn("database unreachable, using in-memory store", slog.Any("error", err))
		mem := memstore.New()
		return storage{
			projects:    mem.Projects(),
			deployments: mem.Deployments(),
			steps:       mem.Steps(),
			audit:       mem.Audit(),
			close:       func() {},
		}
	}

	audit, err := postgres.NewAuditRepo(cfg.DatabaseURL)
	if err != nil {
		logger.Error("audit log connection failed", slog.Any("error", err))
		os.Exit(1)
	}

	return storage{
		projects:    postgres.NewProjectRepo(pool),
		deployments: postgres.NewDeploymentRepo(pool),
		steps:       postgres.NewStepRepo(pool),
		audit:       audit,
		close: func() {
			audit.Close()
			pool.Close()
		},
	}
}
