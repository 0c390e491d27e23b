package domain

import "time"

// Reservation binds a unit to a ticket for the ticket's date range.
// TicketStatus and DateRange are read from the owning ticket.
type Reservation struct {
	ID           string
	TicketID     string
	ChildID      string
	DeviceID     string
	TicketStatus TicketStatus
	DateRange    DateRange
	CreatedAt    time.Time
	ReleasedAt   *time.Time
	FinalStatus  *ChildStatus
}

// Active reports whether the reservation has not been released.
func (r Reservation) Active() bool {
	return r.ReleasedAt == nil
}

// Blocks reports whether the reservation prevents reserving the same unit for rng.
func (r Reservation) Blocks(rng DateRange) bool {
	return r.Active() && r.TicketStatus.HoldsReservation() && r.DateRange.Overlaps(rng)
}
