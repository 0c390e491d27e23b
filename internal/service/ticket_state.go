package service

import (
	"sort"
	"strings"
	"time"

	"github.com/orbis-track/borrow-service/internal/domain"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// UnitDisposition is the condition a unit came back in.
type UnitDisposition struct {
	ChildID     string
	FinalStatus domain.ChildStatus
}

// The transitions below mutate only the in-memory ticket. Callers persist the result inside
// the transaction that loaded it, so a returned error leaves storage untouched.

// checkStage guards approval actions against a stale view of the ticket.
func checkStage(t *domain.Ticket, expectedStageIndex int) (*domain.TimelineStep, error) {
	if t.Status != domain.TicketStatusPending || t.CurrentStageIndex != expectedStageIndex {
		return nil, apperrors.NewConcurrencyConflict("ticket has moved on; refetch and retry", map[string]any{
			"status":               t.Status,
			"current_stage_index":  t.CurrentStageIndex,
			"expected_stage_index": expectedStageIndex,
		})
	}
	step := t.CurrentStep()
	if step == nil || step.Status != domain.StepStatusPending {
		return nil, apperrors.NewConcurrencyConflict("current step is not awaiting action", map[string]any{
			"current_stage_index": t.CurrentStageIndex,
		})
	}
	return step, nil
}

func checkCandidate(step *domain.TimelineStep, actorID string, candidates []string) error {
	for _, id := range candidates {
		if id == actorID {
			return nil
		}
	}
	return apperrors.NewNotApprover("actor is not an approver for the current step", map[string]any{
		"step_number":   step.StepNumber,
		"required_role": step.RequiredRole,
	})
}

// approveStep approves the current step and either advances the stage or approves the ticket.
func approveStep(t *domain.Ticket, actorID string, expectedStageIndex int, candidates []string, now time.Time) (*domain.TimelineStep, error) {
	step, err := checkStage(t, expectedStageIndex)
	if err != nil {
		return nil, err
	}
	if err := checkCandidate(step, actorID, candidates); err != nil {
		return nil, err
	}
	approver := actorID
	at := now
	step.Status = domain.StepStatusApproved
	step.ApproverID = &approver
	step.UpdatedAt = &at
	if t.CurrentStageIndex == len(t.Timeline)-1 {
		t.Status = domain.TicketStatusApproved
	} else {
		t.CurrentStageIndex++
	}
	return step, nil
}

// rejectStep rejects the current step and the ticket. Later steps are left PENDING.
func rejectStep(t *domain.Ticket, actorID string, expectedStageIndex int, candidates []string, reason string, now time.Time) (*domain.TimelineStep, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("reason required", nil)
	}
	step, err := checkStage(t, expectedStageIndex)
	if err != nil {
		return nil, err
	}
	if err := checkCandidate(step, actorID, candidates); err != nil {
		return nil, err
	}
	approver := actorID
	at := now
	step.Status = domain.StepStatusRejected
	step.ApproverID = &approver
	step.Reason = reason
	step.UpdatedAt = &at
	t.Status = domain.TicketStatusRejected
	t.RejectReason = reason
	return step, nil
}

// confirmPickup moves an approved ticket into use.
func confirmPickup(t *domain.Ticket, pickupLocation string) error {
	pickupLocation = strings.TrimSpace(pickupLocation)
	if pickupLocation == "" {
		return apperrors.NewValidationError("pickup_location required", nil)
	}
	if t.Status != domain.TicketStatusApproved {
		return invalidTransition(t.Status, domain.TicketStatusInUse)
	}
	t.Status = domain.TicketStatusInUse
	t.PickupLocation = pickupLocation
	return nil
}

// completeReturn validates dispositions against the attached units and completes the ticket.
// The returned map holds the final status for every attached unit.
func completeReturn(t *domain.Ticket, attached []string, dispositions []UnitDisposition, returnLocation string) (map[string]domain.ChildStatus, error) {
	if len(dispositions) == 0 {
		return nil, apperrors.NewValidationError("unit_dispositions required", nil)
	}
	if t.Status != domain.TicketStatusInUse {
		return nil, invalidTransition(t.Status, domain.TicketStatusCompleted)
	}

	attachedSet := make(map[string]struct{}, len(attached))
	for _, id := range attached {
		attachedSet[id] = struct{}{}
	}
	final := make(map[string]domain.ChildStatus, len(dispositions))
	for _, d := range dispositions {
		if _, ok := attachedSet[d.ChildID]; !ok {
			return nil, apperrors.NewValidationError("unit is not attached to ticket", map[string]any{"child_id": d.ChildID})
		}
		if _, dup := final[d.ChildID]; dup {
			return nil, apperrors.NewValidationError("duplicate disposition", map[string]any{"child_id": d.ChildID})
		}
		if !d.FinalStatus.ReturnDisposition() {
			return nil, apperrors.NewValidationError("final_status must be READY, DAMAGED or LOST", map[string]any{
				"child_id":     d.ChildID,
				"final_status": d.FinalStatus,
			})
		}
		final[d.ChildID] = d.FinalStatus
	}

	var missing []string
	for _, id := range attached {
		if _, ok := final[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperrors.NewIncompleteDisposition("every attached unit needs a disposition", map[string]any{
			"missing_child_ids": missing,
		})
	}

	t.Status = domain.TicketStatusCompleted
	if loc := strings.TrimSpace(returnLocation); loc != "" {
		t.ReturnLocation = loc
	}
	return final, nil
}

func invalidTransition(from, to domain.TicketStatus) error {
	return apperrors.NewConflict("invalid status transition", map[string]any{
		"from": from,
		"to":   to,
	})
}
