package domain

import "time"

// TicketChangeType captures what changed in a history entry.
type TicketChangeType string

const (
	ChangeTypeCreated    TicketChangeType = "TICKET_CREATED"
	ChangeTypeStatus     TicketChangeType = "STATUS_CHANGE"
	ChangeTypeApproved   TicketChangeType = "STEP_APPROVED"
	ChangeTypeRejected   TicketChangeType = "STEP_REJECTED"
	ChangeTypeReconciled TicketChangeType = "DEVICES_RECONCILED"
	ChangeTypePickup     TicketChangeType = "PICKUP_CONFIRMED"
	ChangeTypeReturned   TicketChangeType = "RETURNED"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID          string
	TicketID    string
	ChangedByID *string
	ChangeType  TicketChangeType
	OldValue    map[string]any
	NewValue    map[string]any
	CreatedAt   time.Time
}
