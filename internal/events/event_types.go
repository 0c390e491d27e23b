package events

import (
	"time"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated     EventType = "ticket_created"
	EventStepApproved      EventType = "ticket_step_approved"
	EventTicketApproved    EventType = "ticket_approved"
	EventTicketRejected    EventType = "ticket_rejected"
	EventPickupConfirmed   EventType = "ticket_pickup_confirmed"
	EventDevicesReconciled EventType = "ticket_devices_reconciled"
	EventTicketReturned    EventType = "ticket_returned"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID string `json:"user_id"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	DeviceID    string   `json:"device_id"`
	ChildIDs    []string `json:"child_ids"`
	FirstRole   string   `json:"first_role"`
	TotalSteps  int      `json:"total_steps"`
	ExternalKey string   `json:"external_key"`
}

// StepActionPayload payload for approvals and rejections.
type StepActionPayload struct {
	StepNumber   int                 `json:"step_number"`
	RequiredRole domain.ApproverRole `json:"required_role"`
	NewStatus    domain.TicketStatus `json:"new_status"`
	Reason       string              `json:"reason,omitempty"`
}

// PickupPayload payload.
type PickupPayload struct {
	PickupLocation string   `json:"pickup_location"`
	ChildIDs       []string `json:"child_ids"`
}

// ReconciledPayload payload.
type ReconciledPayload struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Updated []string `json:"updated"`
}

// ReturnedPayload payload.
type ReturnedPayload struct {
	FinalStatuses map[string]domain.ChildStatus `json:"final_statuses"`
}
