package domain

import "time"

// ChildStatus is the physical condition of a serialized unit.
type ChildStatus string

const (
	ChildStatusReady     ChildStatus = "READY"
	ChildStatusBorrowed  ChildStatus = "BORROWED"
	ChildStatusDamaged   ChildStatus = "DAMAGED"
	ChildStatusLost      ChildStatus = "LOST"
	ChildStatusRepairing ChildStatus = "REPAIRING"
)

// Valid reports whether the status is known.
func (s ChildStatus) Valid() bool {
	switch s {
	case ChildStatusReady, ChildStatusBorrowed, ChildStatusDamaged, ChildStatusLost, ChildStatusRepairing:
		return true
	}
	return false
}

// ReturnDisposition reports whether the status is an allowed outcome of a return.
func (s ChildStatus) ReturnDisposition() bool {
	return s == ChildStatusReady || s == ChildStatusDamaged || s == ChildStatusLost
}

// Device is a borrowable device type.
type Device struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// DeviceChild is one physical unit of a device.
type DeviceChild struct {
	ID            string
	DeviceID      string
	AssetCode     string
	Serial        *string
	CurrentStatus ChildStatus
	UpdatedAt     time.Time
}
