package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gitblit-org/ticketstore/internal/domain"
	"github.com/gitblit-org/ticketstore/internal/index"
	"github.com/gitblit-org/ticketstore/internal/store"
	"github.com/gitblit-org/ticketstore/pkg/util"
)

// TicketsHandler exposes the ticket store over HTTP.
type TicketsHandler struct {
	service *store.Service
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(service *store.Service) *TicketsHandler {
	return &TicketsHandler{service: service}
}

// CreateTicketRequest is the POST /repos/:repo/tickets payload.
type CreateTicketRequest struct {
	Author      string   `json:"author"`
	Title       string   `json:"title"`
	Body        string   `json:"body,omitempty"`
	Topic       string   `json:"topic,omitempty"`
	Type        string   `json:"type,omitempty"`
	Milestone   string   `json:"milestone,omitempty"`
	Responsible string   `json:"responsible,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// UpdateTicketRequest is the PATCH payload: a sparse field set.
type UpdateTicketRequest struct {
	Author      string            `json:"author"`
	Fields      map[string]string `json:"fields,omitempty"`
	AddLabels   []string          `json:"addLabels,omitempty"`
	DropLabels  []string          `json:"dropLabels,omitempty"`
	AddWatchers []string          `json:"addWatchers,omitempty"`
	Comment     string            `json:"comment,omitempty"`
}

// CommentRequest carries a comment body.
type CommentRequest struct {
	Author string `json:"author"`
	Text   string `json:"text"`
}

// CreateTicket POST /repos/:repo/tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	change := domain.NewChange(req.Author)
	change.SetField(domain.FieldTitle, req.Title)
	if req.Body != "" {
		change.SetField(domain.FieldBody, req.Body)
	}
	if req.Topic != "" {
		change.SetField(domain.FieldTopic, req.Topic)
	}
	if req.Type != "" {
		change.SetField(domain.FieldType, req.Type)
	}
	if req.Milestone != "" {
		change.SetField(domain.FieldMilestone, req.Milestone)
	}
	if req.Responsible != "" {
		change.SetField(domain.FieldResponsible, req.Responsible)
	}
	change.Label(req.Labels...)

	ticket, err := h.service.CreateTicket(c.UserContext(), c.Params("repo"), change)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticket})
}

// GetTicket GET /repos/:repo/tickets/:id. Accepts the numeric id or the
// changeId hash; both resolve to the same ticket.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	repo := c.Params("repo")
	key := c.Params("id")

	var ticket *domain.Ticket
	var err error
	if id, parseErr := strconv.ParseInt(key, 10, 64); parseErr == nil {
		ticket, err = h.service.GetTicket(c.UserContext(), repo, id)
	} else {
		ticket, err = h.service.GetTicketByChangeID(c.UserContext(), repo, key)
	}
	if err != nil {
		return err
	}
	if ticket == nil {
		return util.NewNotFound("ticket", fiber.Map{"repository": repo, "id": key})
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// GetJournal GET /repos/:repo/tickets/:id/journal.
func (h *TicketsHandler) GetJournal(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	journal, err := h.service.GetJournal(c.UserContext(), c.Params("repo"), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": journal})
}

// UpdateTicket PATCH /repos/:repo/tickets/:id.
func (h *TicketsHandler) UpdateTicket(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	change := domain.NewChange(req.Author)
	for field, value := range req.Fields {
		change.SetField(domain.Field(field), value)
	}
	change.Label(req.AddLabels...)
	change.Unlabel(req.DropLabels...)
	change.Watch(req.AddWatchers...)
	if strings.TrimSpace(req.Comment) != "" {
		change.AddComment(req.Comment)
	}

	ticket, err := h.service.UpdateTicket(c.UserContext(), c.Params("repo"), id, change)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// AddComment POST /repos/:repo/tickets/:id/comments.
func (h *TicketsHandler) AddComment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Text) == "" {
		return util.NewValidationError("comment text required", nil)
	}
	change := domain.NewChange(req.Author)
	change.AddComment(req.Text)
	ticket, err := h.service.UpdateTicket(c.UserContext(), c.Params("repo"), id, change)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticket})
}

// UpdateComment PATCH /repos/:repo/tickets/:id/comments/:cid.
func (h *TicketsHandler) UpdateComment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CommentRequest
	if err := c.BodyParser(&req); err != nil {
		return util.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.UpdateComment(c.UserContext(), c.Params("repo"), id, req.Author, c.Params("cid"), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// DeleteComment DELETE /repos/:repo/tickets/:id/comments/:cid.
func (h *TicketsHandler) DeleteComment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.DeleteComment(c.UserContext(), c.Params("repo"), id, c.Query("actor"), c.Params("cid"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticket})
}

// DeleteTicket DELETE /repos/:repo/tickets/:id.
func (h *TicketsHandler) DeleteTicket(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.service.DeleteTicket(c.UserContext(), c.Params("repo"), id, c.Query("actor")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetAttachment GET /repos/:repo/tickets/:id/attachments/:name.
func (h *TicketsHandler) GetAttachment(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	attachment, err := h.service.GetAttachment(c.UserContext(), c.Params("repo"), id, c.Params("name"))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+attachment.Name+`"`)
	return c.Send(attachment.Content)
}

// ListTickets GET /repos/:repo/tickets. Builds a structured query from
// the filter params and delegates to the index.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	qb := index.NewQueryBuilder().
		And(index.Matches(index.FieldRepository, c.Params("repo"))).
		And(conditional(index.FieldStatus, c.Query("status"))).
		And(conditional(index.FieldMilestone, c.Query("milestone"))).
		And(conditional(index.FieldLabels, c.Query("label"))).
		And(conditional(index.FieldResponsible, c.Query("responsible")))
	results, err := h.service.QueryFor(qb.Build(),
		c.QueryInt("page", 1), c.QueryInt("pageSize", 0),
		c.Query("sort"), c.QueryBool("desc", true))
	if err != nil {
		return err
	}
	return c.JSON(listResponse(results))
}

// Search GET /repos/:repo/search?q=.
func (h *TicketsHandler) Search(c *fiber.Ctx) error {
	results, err := h.service.SearchFor(c.Params("repo"), c.Query("q"),
		c.QueryInt("page", 1), c.QueryInt("pageSize", 0))
	if err != nil {
		return err
	}
	return c.JSON(listResponse(results))
}

// Query GET /query?q= runs a raw structured query across repositories.
func (h *TicketsHandler) Query(c *fiber.Ctx) error {
	results, err := h.service.QueryFor(c.Query("q"),
		c.QueryInt("page", 1), c.QueryInt("pageSize", 0),
		c.Query("sort"), c.QueryBool("desc", true))
	if err != nil {
		return err
	}
	return c.JSON(listResponse(results))
}

// Reindex POST /reindex rebuilds the whole index from journals.
func (h *TicketsHandler) Reindex(c *fiber.Ctx) error {
	if err := h.service.ReindexAll(c.UserContext()); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// ReindexRepository POST /repos/:repo/reindex.
func (h *TicketsHandler) ReindexRepository(c *fiber.Ctx) error {
	if err := h.service.ReindexRepository(c.UserContext(), c.Params("repo")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func parseID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, util.NewValidationError("ticket id must be numeric", nil)
	}
	return id, nil
}

func conditional(field, value string) string {
	if value == "" {
		return ""
	}
	return index.Matches(field, value)
}

func listResponse(results []*domain.QueryResult) fiber.Map {
	var total int64
	if len(results) > 0 {
		total = results[0].TotalResults
	}
	return fiber.Map{"data": results, "total": total}
}
