package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gitblit-org/ticketstore/internal/store"
)

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	service *store.Service
}

// NewHealthHandler constructs handler.
func NewHealthHandler(service *store.Service) *HealthHandler {
	return &HealthHandler{service: service}
}

// Live GET /health/live.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready GET /health/ready. Ready means the active backend can serve.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	if !h.service.Ready(c.UserContext()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
