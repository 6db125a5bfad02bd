package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitblit-org/ticketstore/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health   *handlers.HealthHandler
	Tickets  *handlers.TicketsHandler
	Labels   *handlers.LabelsHandler
	Admin    *handlers.AdminHandler
	Registry *prometheus.Registry
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(
			promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	app.Get("/query", cfg.Tickets.Query)
	app.Post("/reindex", cfg.Tickets.Reindex)
	app.Post("/caches/reset", cfg.Admin.ResetCaches)

	repo := app.Group("/repos/:repo")
	repo.Get("/search", cfg.Tickets.Search)
	repo.Post("/reindex", cfg.Tickets.ReindexRepository)
	repo.Post("/rename", cfg.Admin.Rename)

	tickets := repo.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Delete("/", cfg.Admin.DeleteAll)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)
	tickets.Get("/:id/journal", cfg.Tickets.GetJournal)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Patch("/:id/comments/:cid", cfg.Tickets.UpdateComment)
	tickets.Delete("/:id/comments/:cid", cfg.Tickets.DeleteComment)
	tickets.Get("/:id/attachments/:name", cfg.Tickets.GetAttachment)

	repo.Get("/labels", cfg.Labels.ListLabels)
	repo.Post("/labels", cfg.Labels.CreateLabel)
	repo.Put("/labels/:name", cfg.Labels.RenameLabel)
	repo.Delete("/labels/:name", cfg.Labels.DeleteLabel)

	repo.Get("/milestones", cfg.Labels.ListMilestones)
	repo.Post("/milestones", cfg.Labels.CreateMilestone)
	repo.Put("/milestones/:name", cfg.Labels.UpdateMilestone)
	repo.Delete("/milestones/:name", cfg.Labels.DeleteMilestone)
}
