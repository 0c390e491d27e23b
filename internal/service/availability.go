package service

import (
	"context"
	"sort"

	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/repository"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// AvailabilityQuery describes which units a caller wants to reserve.
type AvailabilityQuery struct {
	DeviceID        string
	DateRange       domain.DateRange
	ExcludeChildIDs []string
	// IgnoreTicketID skips reservations held by this ticket, so a ticket being edited
	// does not block units it already holds.
	IgnoreTicketID string
}

// AvailabilityChecker finds units that can be reserved for a date range.
type AvailabilityChecker struct{}

// NewAvailabilityChecker constructs the checker.
func NewAvailabilityChecker() *AvailabilityChecker {
	return &AvailabilityChecker{}
}

// FindAvailable reads the store passed in at call time; pass a transactional store to
// re-validate under lock.
func (a *AvailabilityChecker) FindAvailable(ctx context.Context, store repository.Store, q AvailabilityQuery) ([]domain.DeviceChild, error) {
	if q.DeviceID == "" {
		return nil, apperrors.NewValidationError("device_id required", nil)
	}
	if !q.DateRange.Valid() {
		return nil, apperrors.NewValidationError("date range must have start before end", nil)
	}
	children, err := store.Devices().ListChildren(ctx, q.DeviceID)
	if err != nil {
		return nil, err
	}
	reservations, err := store.Reservations().ListActiveByDevice(ctx, q.DeviceID)
	if err != nil {
		return nil, err
	}
	return filterAvailable(children, reservations, q), nil
}

// filterAvailable keeps READY units without a blocking reservation, ordered by asset code.
func filterAvailable(children []domain.DeviceChild, reservations []domain.Reservation, q AvailabilityQuery) []domain.DeviceChild {
	excluded := make(map[string]struct{}, len(q.ExcludeChildIDs))
	for _, id := range q.ExcludeChildIDs {
		excluded[id] = struct{}{}
	}
	blocked := blockedChildren(reservations, q.DateRange, q.IgnoreTicketID)

	result := make([]domain.DeviceChild, 0, len(children))
	for _, child := range children {
		if child.CurrentStatus != domain.ChildStatusReady {
			continue
		}
		if _, ok := excluded[child.ID]; ok {
			continue
		}
		if _, ok := blocked[child.ID]; ok {
			continue
		}
		result = append(result, child)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AssetCode != result[j].AssetCode {
			return result[i].AssetCode < result[j].AssetCode
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// preferUncontended orders units so those with no overlapping PENDING hold come first. The
// order within each group is kept, so selection stays deterministic.
func preferUncontended(available []domain.DeviceChild, reservations []domain.Reservation, rng domain.DateRange) []domain.DeviceChild {
	contended := make(map[string]struct{})
	for _, res := range reservations {
		if res.Active() && res.TicketStatus == domain.TicketStatusPending && res.DateRange.Overlaps(rng) {
			contended[res.ChildID] = struct{}{}
		}
	}
	out := append([]domain.DeviceChild(nil), available...)
	sort.SliceStable(out, func(i, j int) bool {
		_, ci := contended[out[i].ID]
		_, cj := contended[out[j].ID]
		return !ci && cj
	})
	return out
}

// blockedChildren maps unit id to the ticket holding it for an overlapping range.
func blockedChildren(reservations []domain.Reservation, rng domain.DateRange, ignoreTicketID string) map[string]string {
	blocked := make(map[string]string)
	for _, res := range reservations {
		if ignoreTicketID != "" && res.TicketID == ignoreTicketID {
			continue
		}
		if res.Blocks(rng) {
			blocked[res.ChildID] = res.TicketID
		}
	}
	return blocked
}

// ensureReservable re-checks the given units under lock and reports every unit that is not
// READY or is held by another reservation-holding ticket.
func ensureReservable(ctx context.Context, tx repository.Store, deviceID string, rng domain.DateRange, ticketID string, childIDs []string, requireReady bool) error {
	if len(childIDs) == 0 {
		return nil
	}
	locked, err := tx.Devices().LockChildren(ctx, childIDs)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.DeviceChild, len(locked))
	for _, child := range locked {
		byID[child.ID] = child
	}
	reservations, err := tx.Reservations().ListActiveByDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	blocked := blockedChildren(reservations, rng, ticketID)

	var unavailable []string
	for _, id := range childIDs {
		child, ok := byID[id]
		if !ok {
			return apperrors.NewNotFound("device child", map[string]any{"child_id": id})
		}
		if child.DeviceID != deviceID {
			return apperrors.NewValidationError("unit belongs to another device", map[string]any{"child_id": id})
		}
		if requireReady && child.CurrentStatus != domain.ChildStatusReady {
			unavailable = append(unavailable, id)
			continue
		}
		if _, ok := blocked[id]; ok {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		sort.Strings(unavailable)
		return apperrors.NewConflict("units no longer available", map[string]any{
			"unavailable_child_ids": unavailable,
		})
	}
	return nil
}
