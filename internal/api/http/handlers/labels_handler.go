package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// LabelsHandler manages label and milestone definitions.
type LabelsHandler struct {
	service *store.Service
}

// NewLabelsHandler constructs handler.
func NewLabelsHandler(service *store.Service) *LabelsHandler {
	return &LabelsHandler{service: service}
}

// LabelRequest is the label create/rename payload.
type LabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Actor string `json:"actor,omitempty"`
}

// ListLabels GET /repos/:repo/labels.
func (h *LabelsHandler) ListLabels(c *fiber.Ctx) error {
	labels, err := h.service.GetLabels(c.UserContext(), c.Params("repo"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": labels})
}

// CreateLabel POST /repos/:repo/labels.
func (h *LabelsHandler) CreateLabel(c *fiber.Ctx) error {
	var req LabelRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	label, err := h.service.CreateLabel(c.UserContext(), c.Params("repo"), req.Name, req.Color)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": label})
}

// RenameLabel PUT /repos/:repo/labels/:name.
func (h *LabelsHandler) RenameLabel(c *fiber.Ctx) error {
	var req LabelRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if err := h.service.RenameLabel(c.UserContext(), c.Params("repo"), c.Params("name"), req.Name, req.Actor); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteLabel DELETE /repos/:repo/labels/:name.
func (h *LabelsHandler) DeleteLabel(c *fiber.Ctx) error {
	if err := h.service.DeleteLabel(c.UserContext(), c.Params("repo"), c.Params("name"), c.Query("actor")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MilestoneRequest is the milestone create/update payload.
type MilestoneRequest struct {
	domain.Milestone
	Actor string `json:"actor,omitempty"`
}

// ListMilestones GET /repos/:repo/milestones.
func (h *LabelsHandler) ListMilestones(c *fiber.Ctx) error {
	milestones, err := h.service.GetMilestones(c.UserContext(), c.Params("repo"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": milestones})
}

// CreateMilestone POST /repos/:repo/milestones.
func (h *LabelsHandler) CreateMilestone(c *fiber.Ctx) error {
	var req MilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	milestone, err := h.service.CreateMilestone(c.UserContext(), c.Params("repo"), req.Milestone)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": milestone})
}

// UpdateMilestone PUT /repos/:repo/milestones/:name.
func (h *LabelsHandler) UpdateMilestone(c *fiber.Ctx) error {
	var req MilestoneRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if req.Name != "" && req.Name != c.Params("name") {
		if err := h.service.RenameMilestone(c.UserContext(), c.Params("repo"), c.Params("name"), req.Name, req.Actor); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
	req.Milestone.Name = c.Params("name")
	if err := h.service.UpdateMilestone(c.UserContext(), c.Params("repo"), req.Milestone); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteMilestone DELETE /repos/:repo/milestones/:name.
func (h *LabelsHandler) DeleteMilestone(c *fiber.Ctx) error {
	if err := h.service.DeleteMilestone(c.UserContext(), c.Params("repo"), c.Params("name"), c.Query("actor")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
