package service

import (
	"testing"
	"time"

	"github.com/orbis-track/borrow-service/internal/domain"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

func threeStepTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:     "t-1",
		Status: domain.TicketStatusPending,
		Timeline: []domain.TimelineStep{
			{ID: "s1", StepNumber: 1, RequiredRole: domain.ApproverRoleHOS, Status: domain.StepStatusPending},
			{ID: "s2", StepNumber: 2, RequiredRole: domain.ApproverRoleHOD, Status: domain.StepStatusPending},
			{ID: "s3", StepNumber: 3, RequiredRole: domain.ApproverRoleAdmin, Status: domain.StepStatusPending},
		},
	}
}

func TestApproveStepAdvancesThenApproves(t *testing.T) {
	ticket := threeStepTicket()
	now := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	approvers := []string{"hos-1", "hod-1", "admin-1"}

	for i, approver := range approvers {
		step, err := approveStep(ticket, approver, i, []string{approver}, now)
		if err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
		if step.Status != domain.StepStatusApproved || step.ApproverID == nil || *step.ApproverID != approver {
			t.Fatalf("step %d not recorded: %+v", i, step)
		}
	}
	if ticket.Status != domain.TicketStatusApproved {
		t.Fatalf("status = %s, want APPROVED", ticket.Status)
	}
	if ticket.CurrentStageIndex != 2 {
		t.Fatalf("stage index = %d, want 2", ticket.CurrentStageIndex)
	}
}

func TestApproveStepGuards(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name     string
		prepare  func(*domain.Ticket)
		actor    string
		expected int
		wantCode string
	}{
		{"stale stage index", func(*domain.Ticket) {}, "hos-1", 1, apperrors.CodeConcurrencyConflict},
		{"ticket no longer pending", func(t *domain.Ticket) { t.Status = domain.TicketStatusRejected }, "hos-1", 0, apperrors.CodeConcurrencyConflict},
		{"actor not a candidate", func(*domain.Ticket) {}, "hod-1", 0, apperrors.CodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := threeStepTicket()
			tc.prepare(ticket)
			before := ticket.Status
			_, err := approveStep(ticket, tc.actor, tc.expected, []string{"hos-1"}, now)
			if !apperrors.HasCode(err, tc.wantCode) {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
			if ticket.Status != before || ticket.Timeline[0].Status != domain.StepStatusPending {
				t.Fatal("failed approval must not mutate the ticket")
			}
		})
	}
}

func TestRejectStepLeavesLaterStepsPending(t *testing.T) {
	ticket := threeStepTicket()
	ticket.Timeline[0].Status = domain.StepStatusApproved
	ticket.CurrentStageIndex = 1

	if _, err := rejectStep(ticket, "hod-1", 1, []string{"hod-1"}, "  ", time.Now()); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("blank reason: expected validation error, got %v", err)
	}

	step, err := rejectStep(ticket, "hod-1", 1, []string{"hod-1"}, " เอกสารไม่ครบ ", time.Now())
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if step.Reason != "เอกสารไม่ครบ" || ticket.RejectReason != "เอกสารไม่ครบ" {
		t.Fatalf("reason not trimmed and recorded: %q / %q", step.Reason, ticket.RejectReason)
	}
	if ticket.Status != domain.TicketStatusRejected {
		t.Fatalf("status = %s, want REJECTED", ticket.Status)
	}
	if ticket.Timeline[2].Status != domain.StepStatusPending {
		t.Fatalf("later step = %s, want PENDING", ticket.Timeline[2].Status)
	}
}

func TestConfirmPickup(t *testing.T) {
	ticket := &domain.Ticket{Status: domain.TicketStatusPending}
	if err := confirmPickup(ticket, "Front desk"); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("pickup of pending ticket: expected conflict, got %v", err)
	}
	ticket.Status = domain.TicketStatusApproved
	if err := confirmPickup(ticket, ""); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("missing location: expected validation error, got %v", err)
	}
	if err := confirmPickup(ticket, "Front desk"); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if ticket.Status != domain.TicketStatusInUse || ticket.PickupLocation != "Front desk" {
		t.Fatalf("ticket not in use: %+v", ticket)
	}
}

func TestCompleteReturn(t *testing.T) {
	attached := []string{"u1", "u2"}
	cases := []struct {
		name         string
		status       domain.TicketStatus
		dispositions []UnitDisposition
		wantCode     string
	}{
		{"not in use", domain.TicketStatusApproved, []UnitDisposition{{"u1", domain.ChildStatusReady}, {"u2", domain.ChildStatusReady}}, apperrors.CodeConflict},
		{"missing unit", domain.TicketStatusInUse, []UnitDisposition{{"u1", domain.ChildStatusReady}}, apperrors.CodeIncompleteDisposition},
		{"unknown unit", domain.TicketStatusInUse, []UnitDisposition{{"u1", domain.ChildStatusReady}, {"u9", domain.ChildStatusReady}}, apperrors.CodeValidation},
		{"duplicate unit", domain.TicketStatusInUse, []UnitDisposition{{"u1", domain.ChildStatusReady}, {"u1", domain.ChildStatusLost}}, apperrors.CodeValidation},
		{"borrowed is not a disposition", domain.TicketStatusInUse, []UnitDisposition{{"u1", domain.ChildStatusBorrowed}, {"u2", domain.ChildStatusReady}}, apperrors.CodeValidation},
		{"complete", domain.TicketStatusInUse, []UnitDisposition{{"u1", domain.ChildStatusDamaged}, {"u2", domain.ChildStatusLost}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := &domain.Ticket{Status: tc.status}
			final, err := completeReturn(ticket, attached, tc.dispositions, "Store room")
			if tc.wantCode != "" {
				if !apperrors.HasCode(err, tc.wantCode) {
					t.Fatalf("expected %s, got %v", tc.wantCode, err)
				}
				if ticket.Status != tc.status {
					t.Fatal("failed return must not change status")
				}
				return
			}
			if err != nil {
				t.Fatalf("return: %v", err)
			}
			if ticket.Status != domain.TicketStatusCompleted || ticket.ReturnLocation != "Store room" {
				t.Fatalf("ticket not completed: %+v", ticket)
			}
			if final["u1"] != domain.ChildStatusDamaged || final["u2"] != domain.ChildStatusLost {
				t.Fatalf("final statuses = %v", final)
			}
		})
	}
}
