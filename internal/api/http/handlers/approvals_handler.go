package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/orbis-track/borrow-service/internal/api/dto"
	"github.com/orbis-track/borrow-service/internal/auth"
	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/service"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// ApprovalsHandler serves the approval gate endpoints.
type ApprovalsHandler struct {
	service *service.TicketService
}

// NewApprovalsHandler constructs handler.
func NewApprovalsHandler(ticketService *service.TicketService) *ApprovalsHandler {
	return &ApprovalsHandler{service: ticketService}
}

// Approve PATCH /tickets/:id/approve.
func (h *ApprovalsHandler) Approve(c *fiber.Ctx) error {
	actor, req, err := stageAction(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.ApproveStep(c.UserContext(), actor, c.Params("id"), *req.ExpectedStageIndex)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket, h.service.Now())})
}

// Reject PATCH /tickets/:id/reject.
func (h *ApprovalsHandler) Reject(c *fiber.Ctx) error {
	actor, req, err := stageAction(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.RejectStep(c.UserContext(), actor, c.Params("id"), *req.ExpectedStageIndex, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketSummary(ticket, h.service.Now())})
}

func stageAction(c *fiber.Ctx) (*domain.User, dto.StageActionRequest, error) {
	var req dto.StageActionRequest
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, req, apperrors.NewUnauthorized("user required")
	}
	if err := c.BodyParser(&req); err != nil {
		return nil, req, apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ExpectedStageIndex == nil || *req.ExpectedStageIndex < 0 {
		return nil, req, apperrors.NewValidationError("expectedStageIndex required", nil)
	}
	return principal.User, req, nil
}
