package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/orbis-track/borrow-service/internal/api/dto"
	"github.com/orbis-track/borrow-service/internal/auth"
	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/service"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// TicketsHandler serves ticket creation and read endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	rng, err := req.DateRange.Parse()
	if err != nil {
		return apperrors.NewValidationError("invalid dateRange", map[string]any{"date_range": err.Error()})
	}

	ticket, err := h.service.CreateTicket(c.UserContext(), principal.User, service.TicketCreateInput{
		DeviceID:           req.DeviceID,
		DateRange:          rng,
		Purpose:            req.Purpose,
		UsageLocation:      req.UsageLocation,
		RequestedUnitCount: req.RequestedUnitCount,
	})
	if err != nil {
		return err
	}
	view, err := h.service.GetTicket(c.UserContext(), principal.User, ticket.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": ticketDetail(view)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	filter := parseTicketQuery(c)
	tickets, err := h.service.ListTickets(c.UserContext(), principal.User, filter)
	if err != nil {
		return err
	}
	now := h.service.Now()
	items := make([]dto.TicketSummary, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketSummary(&tickets[i], now))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	view, err := h.service.GetTicket(c.UserContext(), principal.User, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketDetail(view)})
}

// ListHistory GET /tickets/:id/history.
func (h *TicketsHandler) ListHistory(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("pageSize"), 100)
	history, err := h.service.ListHistory(c.UserContext(), principal.User, c.Params("id"), pageSize, (page-1)*pageSize)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": historyResponses(history)})
}

func parseTicketQuery(c *fiber.Ctx) service.TicketListFilter {
	filter := service.TicketListFilter{}
	if statusStr := c.Query("status"); statusStr != "" {
		for _, part := range strings.Split(statusStr, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Statuses = append(filter.Statuses, domain.TicketStatus(strings.ToUpper(part)))
			}
		}
	}
	if deviceID := c.Query("deviceId"); deviceID != "" {
		filter.DeviceID = &deviceID
	}
	filter.OnlyMine = c.QueryBool("mine", false)
	page := parseInt(c.Query("page"), 1)
	pageSize := parseInt(c.Query("pageSize"), 20)
	filter.Offset = (page - 1) * pageSize
	filter.Limit = pageSize
	return filter
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func ticketSummary(ticket *domain.Ticket, now time.Time) dto.TicketSummary {
	return dto.TicketSummary{
		ID:                ticket.ID,
		ExternalKey:       ticket.ExternalKey,
		RequesterID:       ticket.RequesterID,
		DeviceID:          ticket.DeviceID,
		Status:            ticket.Status,
		DisplayStatus:     ticket.DisplayStatus(now),
		Overdue:           ticket.IsOverdue(now),
		DateRange:         dto.DateRangeResponse{Start: ticket.DateRange.Start, End: ticket.DateRange.End},
		Purpose:           ticket.Purpose,
		UsageLocation:     ticket.UsageLocation,
		PickupLocation:    ticket.PickupLocation,
		ReturnLocation:    ticket.ReturnLocation,
		RejectReason:      ticket.RejectReason,
		CurrentStageIndex: ticket.CurrentStageIndex,
		CreatedAt:         ticket.CreatedAt,
		UpdatedAt:         ticket.UpdatedAt,
	}
}

func ticketDetail(view *service.TicketView) dto.TicketDetailResponse {
	summary := ticketSummary(view.Ticket, time.Time{})
	summary.DisplayStatus = view.DisplayStatus
	summary.Overdue = view.Overdue

	steps := make([]dto.TimelineStepResponse, 0, len(view.Steps))
	for _, sv := range view.Steps {
		steps = append(steps, dto.TimelineStepResponse{
			ID:           sv.Step.ID,
			StepNumber:   sv.Step.StepNumber,
			RequiredRole: sv.Step.RequiredRole,
			DepartmentID: sv.Step.Scope.DepartmentID,
			SectionID:    sv.Step.Scope.SectionID,
			Status:       sv.Step.Status,
			ApproverID:   sv.Step.ApproverID,
			Reason:       sv.Step.Reason,
			UpdatedAt:    sv.Step.UpdatedAt,
			Candidates:   sv.Candidates,
		})
	}
	return dto.TicketDetailResponse{
		TicketSummary: summary,
		Timeline:      steps,
		Units:         attachedUnitResponses(view.Units),
	}
}

func attachedUnitResponses(units []service.AttachedUnit) []dto.AttachedUnitResponse {
	resp := make([]dto.AttachedUnitResponse, 0, len(units))
	for _, u := range units {
		resp = append(resp, dto.AttachedUnitResponse{
			ChildID:       u.Reservation.ChildID,
			AssetCode:     u.Child.AssetCode,
			Serial:        u.Child.Serial,
			CurrentStatus: u.Child.CurrentStatus,
			AttachedAt:    u.Reservation.CreatedAt,
			ReleasedAt:    u.Reservation.ReleasedAt,
			FinalStatus:   u.Reservation.FinalStatus,
		})
	}
	return resp
}

func historyResponses(entries []domain.TicketHistory) []dto.TicketHistoryResponse {
	resp := make([]dto.TicketHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, dto.TicketHistoryResponse{
			ID:          entry.ID,
			ChangedByID: entry.ChangedByID,
			ChangeType:  entry.ChangeType,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return resp
}
