// Package server exposes the dev-mode service over HTTP.
//
// The API is a thin layer: every handler maps one request onto one
// devmode.Service call. Mutating endpoints answer 202 Accepted because the
// work runs asynchronously on the event bus.
package server

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"karavan/internal/cache"
	"karavan/internal/reconciler"
	"karavan/internal/reload"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

const subsystem = "Server"

// DevModeService is the part of devmode.Service the API exposes.
type DevModeService interface {
	GetStatus(ctx context.Context, projectID, env string) (status.ContainerStatus, bool, error)
	ListStatuses(ctx context.Context, filter cache.Filter) ([]status.ContainerStatus, error)
	RequestReload(ctx context.Context, projectID string) error
	RequestDelete(ctx context.Context, projectID string) error
	RequestRun(ctx context.Context, projectID string) error
	StreamLogs(ctx context.Context, projectID string, fn func(line string)) error
	LastReload(projectID string) (reload.Result, bool)
}

// ReconcileReporter reports reconciliation progress.
type ReconcileReporter interface {
	GetAllStatuses() []reconciler.ReconcileStatus
	Metrics() reconciler.ReconcilerMetricsSummary
}

// WorkloadLister lists tracked Kubernetes workloads.
type WorkloadLister interface {
	Deployments(env string) []status.DeploymentStatus
	Services(env string) []status.ServiceStatus
}

// Server is the HTTP API.
type Server struct {
	app       *fiber.App
	service   DevModeService
	reconcile ReconcileReporter
	workloads WorkloadLister
}

// New builds the API. reconcile may be nil.
func New(service DevModeService, reconcile ReconcileReporter) *Server {
	s := &Server{
		service:   service,
		reconcile: reconcile,
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "karavan",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")

	devmode := api.Group("/devmode")
	devmode.Post("/", s.runDevMode)
	devmode.Get("/container/:projectId", s.getContainer)
	devmode.Get("/reload/:projectId", s.reloadProject)
	devmode.Get("/reload/:projectId/result", s.reloadResult)
	devmode.Get("/logs/:projectId", s.streamLogs)
	devmode.Delete("/:projectId", s.deleteDevMode)

	statusGroup := api.Group("/status")
	statusGroup.Get("/containers", s.listContainers)
	statusGroup.Get("/reconcile", s.reconcileStatus)
	statusGroup.Get("/deployments", s.listDeployments)
	statusGroup.Get("/services", s.listServices)
}

// WithWorkloads enables the deployment and service endpoints. Call it
// before Listen.
func (s *Server) WithWorkloads(w WorkloadLister) *Server {
	s.workloads = w
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	logging.Info(subsystem, "Listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		logging.Error(subsystem, err, "%s %s failed", c.Method(), c.Path())
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
