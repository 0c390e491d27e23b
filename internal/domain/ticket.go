package domain

import "time"

// TicketStatus enumerates persisted lifecycle states for borrow tickets.
type TicketStatus string

const (
	TicketStatusPending   TicketStatus = "PENDING"
	TicketStatusApproved  TicketStatus = "APPROVED"
	TicketStatusRejected  TicketStatus = "REJECTED"
	TicketStatusInUse     TicketStatus = "IN_USE"
	TicketStatusCompleted TicketStatus = "COMPLETED"

	// TicketStatusOverdue is a display-only state derived from IN_USE tickets past their end date.
	TicketStatusOverdue TicketStatus = "OVERDUE"
)

// Valid reports whether the status can be stored.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusPending, TicketStatusApproved, TicketStatusRejected, TicketStatusInUse, TicketStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TicketStatus) Terminal() bool {
	return s == TicketStatusRejected || s == TicketStatusCompleted
}

// HoldsReservation reports whether units attached to a ticket in this status block other tickets.
func (s TicketStatus) HoldsReservation() bool {
	return s == TicketStatusApproved || s == TicketStatusInUse
}

// Ticket is the aggregate for a borrow request.
type Ticket struct {
	ID                string
	ExternalKey       string
	RequesterID       string
	DeviceID          string
	Status            TicketStatus
	DateRange         DateRange
	Purpose           string
	UsageLocation     string
	PickupLocation    string
	ReturnLocation    string
	RejectReason      string
	CurrentStageIndex int
	Timeline          []TimelineStep
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CurrentStep returns the step the ticket is waiting on, or nil when the index is out of range.
func (t *Ticket) CurrentStep() *TimelineStep {
	if t.CurrentStageIndex < 0 || t.CurrentStageIndex >= len(t.Timeline) {
		return nil
	}
	return &t.Timeline[t.CurrentStageIndex]
}

// IsOverdue is true for IN_USE tickets once now is strictly after the end of the borrow range.
func (t *Ticket) IsOverdue(now time.Time) bool {
	return t.Status == TicketStatusInUse && now.After(t.DateRange.End)
}

// DisplayStatus returns the status shown to readers, substituting OVERDUE where it applies.
func (t *Ticket) DisplayStatus(now time.Time) TicketStatus {
	if t.IsOverdue(now) {
		return TicketStatusOverdue
	}
	return t.Status
}
