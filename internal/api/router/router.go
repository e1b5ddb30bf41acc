package router

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/irgordon/deploycenter/internal/api/handlers"
	apimw "github.com/irgordon/deploycenter/internal/api/middleware"
)

// Config carries the handler dependencies the routing tree needs.
type Config struct {
	AllowedOrigins []string

	Auth        *apimw.Auth
	WebhookRL   *apimw.WebhookRateLimit
	Projects    *handlers.ProjectHandler
	Deployments *handlers.DeploymentHandler
	Webhooks    *handlers.WebhookHandler
	WS          *handlers.WebSocketHandler
	SSE         *handlers.SSEHandler

	Logger *slog.Logger
}

// New builds the chi multiplexer with the global middleware pipeline and
// all endpoints. The gateway is glue only: every route delegates to the
// core operations.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.StructuredLogger(cfg.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(apimw.MaxBytes(1 << 20))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Hub-Signature-256", "X-GitHub-Event"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {

		// Public: webhook deliveries authenticate with their HMAC
		// signature, not a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(cfg.WebhookRL.Handler)
			r.Post("/webhooks/github/{id}", cfg.Webhooks.HandleGitHubPush)
		})

		// Panel routes require a valid JWT.
		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.RequireAuthentication)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", cfg.Projects.List)
				r.Post("/", cfg.Projects.Create)
				r.Get("/{id}", cfg.Projects.GetByID)
				r.Get("/{id}/deployments", cfg.Deployments.ListForProject)
				r.Post("/{id}/deployments", cfg.Deployments.Create)
			})

			r.Route("/deployments", func(r chi.Router) {
				r.Get("/{id}", cfg.Deployments.GetByID)
				r.Get("/{id}/steps", cfg.Deployments.ListSteps)
				r.Post("/{id}/cancel", cfg.Deployments.Cancel)
				r.Post("/{id}/retry", cfg.Deployments.Retry)
				r.Get("/{id}/logs", cfg.SSE.StreamLogs)
			})

			r.Get("/queue", cfg.Deployments.QueueStatus)
			r.Get("/ws/deployments/{id}", cfg.WS.StreamDeployment)
		})
	})

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	return r
}
