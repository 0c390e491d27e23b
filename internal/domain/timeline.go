package domain

import "time"

// ApproverRole is the closed set of roles that can gate a ticket.
type ApproverRole string

const (
	ApproverRoleHOS   ApproverRole = "HOS"
	ApproverRoleHOD   ApproverRole = "HOD"
	ApproverRoleAdmin ApproverRole = "ADMIN"
)

// Valid reports whether the role is one of the known approver roles.
func (r ApproverRole) Valid() bool {
	switch r {
	case ApproverRoleHOS, ApproverRoleHOD, ApproverRoleAdmin:
		return true
	}
	return false
}

// UserRole returns the directory role that holds this approver role.
func (r ApproverRole) UserRole() UserRole {
	switch r {
	case ApproverRoleHOS:
		return UserRoleHOS
	case ApproverRoleHOD:
		return UserRoleHOD
	default:
		return UserRoleAdmin
	}
}

// StepStatus enumerates approval gate states.
type StepStatus string

const (
	StepStatusPending  StepStatus = "PENDING"
	StepStatusApproved StepStatus = "APPROVED"
	StepStatusRejected StepStatus = "REJECTED"
)

// Scope pins a step to an organizational unit. Empty fields mean "not scoped".
type Scope struct {
	DepartmentID string
	SectionID    string
}

// TimelineStep is one gate in a ticket's approval chain.
type TimelineStep struct {
	ID           string
	TicketID     string
	StepNumber   int
	RequiredRole ApproverRole
	Scope        Scope
	Status       StepStatus
	ApproverID   *string
	Reason       string
	UpdatedAt    *time.Time
}
