package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/orbis-track/borrow-service/internal/api/dto"
	"github.com/orbis-track/borrow-service/internal/auth"
	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/service"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// DevicesHandler serves unit availability, reconciliation and handover endpoints.
type DevicesHandler struct {
	service *service.TicketService
}

// NewDevicesHandler constructs handler.
func NewDevicesHandler(ticketService *service.TicketService) *DevicesHandler {
	return &DevicesHandler{service: ticketService}
}

// Available GET /tickets/:id/device-available.
func (h *DevicesHandler) Available(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var rng *domain.DateRange
	start, end := c.Query("start"), c.Query("end")
	if start != "" || end != "" {
		parsed, err := dto.DateRangeRequest{Start: start, End: end}.Parse()
		if err != nil {
			return apperrors.NewValidationError("invalid date range", map[string]any{"date_range": err.Error()})
		}
		rng = &parsed
	}
	var excludes []string
	for _, id := range strings.Split(c.Query("excludeIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			excludes = append(excludes, id)
		}
	}

	children, err := h.service.FindAvailable(c.UserContext(), principal.User, c.Params("id"), rng, excludes)
	if err != nil {
		return err
	}
	items := make([]dto.DeviceChildResponse, 0, len(children))
	for _, child := range children {
		items = append(items, dto.DeviceChildResponse{
			ID:            child.ID,
			DeviceID:      child.DeviceID,
			AssetCode:     child.AssetCode,
			Serial:        child.Serial,
			CurrentStatus: child.CurrentStatus,
			UpdatedAt:     child.UpdatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": items})
}

// ManageDeviceChilds PATCH /tickets/:id/manage-device-childs.
func (h *DevicesHandler) ManageDeviceChilds(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.ManageDeviceChildsRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if len(req.Events) > 0 && len(req.Desired) > 0 {
		return apperrors.NewValidationError("send either events or desired", nil)
	}

	input := service.ReconcileInput{Original: unitStates(req.Original), Desired: unitStates(req.Desired)}
	for _, ev := range req.Events {
		input.Events = append(input.Events, service.SessionEvent{
			ChildID: ev.ChildID,
			Action:  service.SessionAction(strings.ToUpper(ev.Action)),
			Status:  ev.Status,
		})
	}

	result, err := h.service.ManageDeviceChilds(c.UserContext(), principal.User, c.Params("id"), input)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.ManageDeviceChildsResponse{
		ChangeSet: changeSetResponse(result.ChangeSet),
		Units:     attachedUnitResponses(result.Units),
	}})
}

// Pickup PATCH /tickets/:id/pickup.
func (h *DevicesHandler) Pickup(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.PickupRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.ConfirmPickup(c.UserContext(), principal.User, c.Params("id"), req.PickupLocation)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket, h.service.Now())})
}

// Return PATCH /tickets/:id/return.
func (h *DevicesHandler) Return(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}
	var req dto.ReturnRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	dispositions := make([]service.UnitDisposition, 0, len(req.UnitDispositions))
	for _, d := range req.UnitDispositions {
		dispositions = append(dispositions, service.UnitDisposition{ChildID: d.ChildID, FinalStatus: d.FinalStatus})
	}
	ticket, err := h.service.ReturnTicket(c.UserContext(), principal.User, c.Params("id"), dispositions, req.ReturnLocation)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket, h.service.Now())})
}

func unitStates(in []dto.UnitStateRequest) []service.UnitState {
	if in == nil {
		return nil
	}
	out := make([]service.UnitState, 0, len(in))
	for _, u := range in {
		out = append(out, service.UnitState{ChildID: u.ChildID, Status: u.Status})
	}
	return out
}

func changeSetResponse(cs service.ChangeSet) dto.ChangeSetResponse {
	resp := dto.ChangeSetResponse{
		ToAdd:    append([]string{}, cs.ToAdd...),
		ToRemove: make([]dto.RemovedUnitResponse, 0, len(cs.ToRemove)),
		ToUpdate: make([]dto.UpdatedUnitResponse, 0, len(cs.ToUpdate)),
	}
	for _, r := range cs.ToRemove {
		resp.ToRemove = append(resp.ToRemove, dto.RemovedUnitResponse{ChildID: r.ChildID, StatusAtRemoval: r.StatusAtRemoval})
	}
	for _, u := range cs.ToUpdate {
		resp.ToUpdate = append(resp.ToUpdate, dto.UpdatedUnitResponse{ChildID: u.ChildID, OldStatus: u.OldStatus, NewStatus: u.NewStatus})
	}
	return resp
}
