package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/orbis-track/borrow-service/internal/api/http/handlers"
	"github.com/orbis-track/borrow-service/internal/auth"
	"github.com/orbis-track/borrow-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Approvals      *handlers.ApprovalsHandler
	Devices        *handlers.DevicesHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireRole())
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.ListHistory)
	tickets.Get("/:id/device-available", cfg.Devices.Available)

	tickets.Patch("/:id/approve", cfg.Approvals.Approve)
	tickets.Patch("/:id/reject", cfg.Approvals.Reject)

	staffOnly := auth.RequireRole(domain.UserRoleStaff, domain.UserRoleAdmin)
	tickets.Patch("/:id/pickup", staffOnly, cfg.Devices.Pickup)
	tickets.Patch("/:id/manage-device-childs", staffOnly, cfg.Devices.ManageDeviceChilds)
	tickets.Patch("/:id/return", staffOnly, cfg.Devices.Return)

	ops := app.Group("/ops", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.UserRoleAdmin))
	ops.Get("/metrics", cfg.Health.Metrics)
}
