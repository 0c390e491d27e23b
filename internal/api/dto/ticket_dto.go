package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/orbis-track/borrow-service/internal/domain"
)

// DateRangeRequest accepts RFC3339 timestamps or plain dates (midnight UTC).
type DateRangeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Parse converts the request into a domain range without validating order.
func (r DateRangeRequest) Parse() (domain.DateRange, error) {
	start, err := ParseTime(r.Start)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("start: %w", err)
	}
	end, err := ParseTime(r.End)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("end: %w", err)
	}
	return domain.DateRange{Start: start, End: end}, nil
}

// ParseTime parses an RFC3339 timestamp or a YYYY-MM-DD date.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", value)
	}
	return t, nil
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	DeviceID           string           `json:"deviceId"`
	DateRange          DateRangeRequest `json:"dateRange"`
	Purpose            string           `json:"purpose"`
	UsageLocation      string           `json:"usageLocation"`
	RequestedUnitCount int              `json:"requestedUnitCount"`
}

// StageActionRequest is the body of approve and reject.
type StageActionRequest struct {
	ExpectedStageIndex *int   `json:"expectedStageIndex"`
	Reason             string `json:"reason"`
}

// DateRangeResponse is a rendered range.
type DateRangeResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TicketSummary response.
type TicketSummary struct {
	ID                string              `json:"id"`
	ExternalKey       string              `json:"externalKey"`
	RequesterID       string              `json:"requesterId"`
	DeviceID          string              `json:"deviceId"`
	Status            domain.TicketStatus `json:"status"`
	DisplayStatus     domain.TicketStatus `json:"displayStatus"`
	Overdue           bool                `json:"overdue"`
	DateRange         DateRangeResponse   `json:"dateRange"`
	Purpose           string              `json:"purpose"`
	UsageLocation     string              `json:"usageLocation"`
	PickupLocation    string              `json:"pickupLocation,omitempty"`
	ReturnLocation    string              `json:"returnLocation,omitempty"`
	RejectReason      string              `json:"rejectReason,omitempty"`
	CurrentStageIndex int                 `json:"currentStageIndex"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// TimelineStepResponse is one approval gate.
type TimelineStepResponse struct {
	ID           string              `json:"id"`
	StepNumber   int                 `json:"stepNumber"`
	RequiredRole domain.ApproverRole `json:"requiredRole"`
	DepartmentID string              `json:"departmentId,omitempty"`
	SectionID    string              `json:"sectionId,omitempty"`
	Status       domain.StepStatus   `json:"status"`
	ApproverID   *string             `json:"approverId,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	UpdatedAt    *time.Time          `json:"updatedAt,omitempty"`
	Candidates   []string            `json:"candidates,omitempty"`
}

// AttachedUnitResponse is a unit bound to a ticket.
type AttachedUnitResponse struct {
	ChildID       string              `json:"childId"`
	AssetCode     string              `json:"assetCode"`
	Serial        *string             `json:"serial,omitempty"`
	CurrentStatus domain.ChildStatus  `json:"currentStatus"`
	AttachedAt    time.Time           `json:"attachedAt"`
	ReleasedAt    *time.Time          `json:"releasedAt,omitempty"`
	FinalStatus   *domain.ChildStatus `json:"finalStatus,omitempty"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Timeline []TimelineStepResponse `json:"timeline"`
	Units    []AttachedUnitResponse `json:"units"`
}

// TicketHistoryResponse is one audit entry.
type TicketHistoryResponse struct {
	ID          string                  `json:"id"`
	ChangedByID *string                 `json:"changedById"`
	ChangeType  domain.TicketChangeType `json:"changeType"`
	OldValue    map[string]any          `json:"oldValue,omitempty"`
	NewValue    map[string]any          `json:"newValue,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
}
