package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// AdminHandler exposes repository-level maintenance operations.
type AdminHandler struct {
	service *store.Service
}

// NewAdminHandler constructs handler.
func NewAdminHandler(service *store.Service) *AdminHandler {
	return &AdminHandler{service: service}
}

// DeleteAll DELETE /repos/:repo/tickets.
func (h *AdminHandler) DeleteAll(c *fiber.Ctx) error {
	if err := h.service.DeleteAll(c.UserContext(), c.Params("repo")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RenameRequest carries the target repository name.
type RenameRequest struct {
	NewName string `json:"newName"`
}

// Rename POST /repos/:repo/rename.
func (h *AdminHandler) Rename(c *fiber.Ctx) error {
	var req RenameRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if req.NewName == "" {
		return util.NewValidationError("newName required", nil)
	}
	if err := h.service.Rename(c.UserContext(), c.Params("repo"), req.NewName); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ResetCaches POST /caches/reset. Drops id counters and snapshots;
// counters re-seed from the backend on next use.
func (h *AdminHandler) ResetCaches(c *fiber.Ctx) error {
	if repo := c.Query("repo"); repo != "" {
		h.service.ResetCachesFor(repo)
	} else {
		h.service.ResetCaches()
	}
	return c.SendStatus(fiber.StatusNoContent)
}
