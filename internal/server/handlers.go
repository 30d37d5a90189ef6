package server

import (
	"bufio"
	"context"

	"github.com/gofiber/fiber/v2"

	"karavan/internal/cache"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

type runRequest struct {
	ProjectID string `json:"projectId"`
}

func (s *Server) getContainer(c *fiber.Ctx) error {
	rec, ok, err := s.service.GetStatus(c.UserContext(), c.Params("projectId"), c.Query("env"))
	if err != nil {
		return err
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no dev-mode container for "+c.Params("projectId"))
	}
	return c.JSON(rec)
}

func (s *Server) reloadProject(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if err := s.service.RequestReload(c.UserContext(), projectID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"projectId": projectID})
}

func (s *Server) reloadResult(c *fiber.Ctx) error {
	result, ok := s.service.LastReload(c.Params("projectId"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "no reload recorded for "+c.Params("projectId"))
	}
	return c.JSON(result)
}

func (s *Server) deleteDevMode(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if err := s.service.RequestDelete(c.UserContext(), projectID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"projectId": projectID})
}

func (s *Server) runDevMode(c *fiber.Ctx) error {
	var req runRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ProjectID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "projectId is required")
	}
	if err := s.service.RequestRun(c.UserContext(), req.ProjectID); err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"projectId": req.ProjectID})
}

func (s *Server) listContainers(c *fiber.Ctx) error {
	filter := cache.Filter{
		ProjectID: c.Query("projectId"),
		Env:       c.Query("env"),
	}
	if t := c.Query("type"); t != "" {
		filter.Type = status.ParseContainerType(t)
		if filter.Type == status.TypeUnknown {
			return fiber.NewError(fiber.StatusBadRequest, "unknown container type "+t)
		}
	}

	records, err := s.service.ListStatuses(c.UserContext(), filter)
	if err != nil {
		return err
	}
	if records == nil {
		records = []status.ContainerStatus{}
	}
	return c.JSON(records)
}

func (s *Server) reconcileStatus(c *fiber.Ctx) error {
	if s.reconcile == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "reconciler not running")
	}
	return c.JSON(fiber.Map{
		"environments": s.reconcile.GetAllStatuses(),
		"metrics":      s.reconcile.Metrics(),
	})
}

// streamLogs writes log lines as plain text until the client goes away.
func (s *Server) listDeployments(c *fiber.Ctx) error {
	if s.workloads == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "workloads are only tracked on kubernetes")
	}
	return c.JSON(s.workloads.Deployments(c.Query("env")))
}

func (s *Server) listServices(c *fiber.Ctx) error {
	if s.workloads == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "workloads are only tracked on kubernetes")
	}
	return c.JSON(s.workloads.Services(c.Query("env")))
}

func (s *Server) streamLogs(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	rec, ok, err := s.service.GetStatus(c.UserContext(), projectID, "")
	if err != nil {
		return err
	}
	if !ok || rec.ContainerID == "" {
		return fiber.NewError(fiber.StatusNotFound, "no dev-mode container for "+projectID)
	}

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := s.service.StreamLogs(ctx, projectID, func(line string) {
			if _, err := w.WriteString(line + "\n"); err != nil {
				cancel()
				return
			}
			if err := w.Flush(); err != nil {
				// client disconnected
				cancel()
			}
		})
		if err != nil {
			logging.Warn(subsystem, "Log stream of %s ended: %v", projectID, err)
		}
	})
	return nil
}
