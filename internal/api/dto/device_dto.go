package dto

import (
	"time"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// DeviceChildResponse is a serialized unit.
type DeviceChildResponse struct {
	ID            string             `json:"id"`
	DeviceID      string             `json:"deviceId"`
	AssetCode     string             `json:"assetCode"`
	Serial        *string            `json:"serial,omitempty"`
	CurrentStatus domain.ChildStatus `json:"currentStatus"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// UnitStateRequest is a unit in an edit snapshot.
type UnitStateRequest struct {
	ChildID string             `json:"childId"`
	Status  domain.ChildStatus `json:"status"`
}

// UnitEventRequest is one entry in an edit session's log.
type UnitEventRequest struct {
	ChildID string             `json:"childId"`
	Action  string             `json:"action"`
	Status  domain.ChildStatus `json:"status,omitempty"`
}

// ManageDeviceChildsRequest commits an edit session. Send events or desired, not both.
type ManageDeviceChildsRequest struct {
	Original []UnitStateRequest `json:"original"`
	Events   []UnitEventRequest `json:"events"`
	Desired  []UnitStateRequest `json:"desired"`
}

// RemovedUnitResponse is a unit that left the ticket.
type RemovedUnitResponse struct {
	ChildID         string             `json:"childId"`
	StatusAtRemoval domain.ChildStatus `json:"statusAtRemoval"`
}

// UpdatedUnitResponse is a unit whose status changed.
type UpdatedUnitResponse struct {
	ChildID   string             `json:"childId"`
	OldStatus domain.ChildStatus `json:"oldStatus"`
	NewStatus domain.ChildStatus `json:"newStatus"`
}

// ChangeSetResponse is what a reconciliation applied.
type ChangeSetResponse struct {
	ToAdd    []string              `json:"toAdd"`
	ToRemove []RemovedUnitResponse `json:"toRemove"`
	ToUpdate []UpdatedUnitResponse `json:"toUpdate"`
}

// ManageDeviceChildsResponse reports the applied changes and the resulting unit list.
type ManageDeviceChildsResponse struct {
	ChangeSet ChangeSetResponse      `json:"changeSet"`
	Units     []AttachedUnitResponse `json:"units"`
}

// PickupRequest payload.
type PickupRequest struct {
	PickupLocation string `json:"pickupLocation"`
}

// UnitDispositionRequest is the returned condition of one unit.
type UnitDispositionRequest struct {
	ChildID     string             `json:"childId"`
	FinalStatus domain.ChildStatus `json:"finalStatus"`
}

// ReturnRequest payload.
type ReturnRequest struct {
	UnitDispositions []UnitDispositionRequest `json:"unitDispositions"`
	ReturnLocation   string                   `json:"returnLocation"`
}
