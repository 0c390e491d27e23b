// Package memory provides an in-process Store used when no Postgres DSN is configured
// and by tests. Transactions copy the whole state and swap it in on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/repository"
)

type state struct {
	users        map[string]domain.User
	devices      map[string]domain.Device
	children     map[string]domain.DeviceChild
	tickets      map[string]domain.Ticket
	reservations []domain.Reservation
	history      []domain.TicketHistory
}

func newState() *state {
	return &state{
		users:    map[string]domain.User{},
		devices:  map[string]domain.Device{},
		children: map[string]domain.DeviceChild{},
		tickets:  map[string]domain.Ticket{},
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.devices {
		out.devices[k] = v
	}
	for k, v := range s.children {
		out.children[k] = v
	}
	for k, v := range s.tickets {
		v.Timeline = append([]domain.TimelineStep(nil), v.Timeline...)
		out.tickets[k] = v
	}
	out.reservations = append([]domain.Reservation(nil), s.reservations...)
	out.history = append([]domain.TicketHistory(nil), s.history...)
	return out
}

type runner interface {
	run(fn func(*state) error) error
}

// Store is a mutex guarded in-memory implementation of repository.Store.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{data: newState(), now: time.Now}
}

func (s *Store) run(fn func(*state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) Tickets() repository.TicketRepository {
	return &ticketRepo{r: s, now: s.now}
}

func (s *Store) Devices() repository.DeviceRepository {
	return &deviceRepo{r: s, now: s.now}
}

func (s *Store) Reservations() repository.ReservationRepository {
	return &reservationRepo{r: s, now: s.now}
}

func (s *Store) History() repository.TicketHistoryRepository {
	return &historyRepo{r: s, now: s.now}
}

// Users exposes the directory records held by the store.
func (s *Store) Users() repository.UserRepository {
	return &userRepo{r: s}
}

// WithinTx serializes fn against a private copy of the state and publishes it only on success.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(&txStore{data: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work
	return nil
}

// PutUser inserts or replaces a directory record.
func (s *Store) PutUser(user domain.User) {
	_ = s.run(func(st *state) error {
		st.users[user.ID] = user
		return nil
	})
}

// PutDevice inserts or replaces a device.
func (s *Store) PutDevice(device domain.Device) {
	_ = s.run(func(st *state) error {
		st.devices[device.ID] = device
		return nil
	})
}

// PutChild inserts or replaces a device unit.
func (s *Store) PutChild(child domain.DeviceChild) {
	_ = s.run(func(st *state) error {
		st.children[child.ID] = child
		return nil
	})
}

type txStore struct {
	data *state
	now  func() time.Time
}

func (t *txStore) run(fn func(*state) error) error {
	return fn(t.data)
}

func (t *txStore) Tickets() repository.TicketRepository {
	return &ticketRepo{r: t, now: t.now}
}

func (t *txStore) Devices() repository.DeviceRepository {
	return &deviceRepo{r: t, now: t.now}
}

func (t *txStore) Reservations() repository.ReservationRepository {
	return &reservationRepo{r: t, now: t.now}
}

func (t *txStore) History() repository.TicketHistoryRepository {
	return &historyRepo{r: t, now: t.now}
}

func (t *txStore) WithinTx(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

type ticketRepo struct {
	r   runner
	now func() time.Time
}

func (r *ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	return r.r.run(func(st *state) error {
		now := r.now()
		ticket.CreatedAt = now
		ticket.UpdatedAt = now
		for i := range ticket.Timeline {
			ticket.Timeline[i].TicketID = ticket.ID
		}
		stored := *ticket
		stored.Timeline = append([]domain.TimelineStep(nil), ticket.Timeline...)
		st.tickets[ticket.ID] = stored
		return nil
	})
}

func (r *ticketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	return r.r.run(func(st *state) error {
		stored, ok := st.tickets[ticket.ID]
		if !ok {
			return pgx.ErrNoRows
		}
		stored.Status = ticket.Status
		stored.PickupLocation = ticket.PickupLocation
		stored.ReturnLocation = ticket.ReturnLocation
		stored.RejectReason = ticket.RejectReason
		stored.CurrentStageIndex = ticket.CurrentStageIndex
		stored.UpdatedAt = r.now()
		ticket.UpdatedAt = stored.UpdatedAt
		st.tickets[ticket.ID] = stored
		return nil
	})
}

func (r *ticketRepo) UpdateStep(_ context.Context, step *domain.TimelineStep) error {
	return r.r.run(func(st *state) error {
		stored, ok := st.tickets[step.TicketID]
		if !ok {
			return pgx.ErrNoRows
		}
		for i := range stored.Timeline {
			if stored.Timeline[i].ID == step.ID {
				stored.Timeline[i] = *step
				st.tickets[step.TicketID] = stored
				return nil
			}
		}
		return pgx.ErrNoRows
	})
}

func (r *ticketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	var out *domain.Ticket
	err := r.r.run(func(st *state) error {
		stored, ok := st.tickets[id]
		if !ok {
			return pgx.ErrNoRows
		}
		stored.Timeline = append([]domain.TimelineStep(nil), stored.Timeline...)
		out = &stored
		return nil
	})
	return out, err
}

func (r *ticketRepo) GetForUpdate(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, id)
}

func (r *ticketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	var result []domain.Ticket
	err := r.r.run(func(st *state) error {
		for _, ticket := range st.tickets {
			if !matchesTicketFilter(ticket, filter) {
				continue
			}
			ticket.Timeline = nil
			result = append(result, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return paginate(result, filter.Limit, filter.Offset, 20), nil
}

func matchesTicketFilter(ticket domain.Ticket, filter repository.TicketFilter) bool {
	if filter.RequesterID != nil && ticket.RequesterID != *filter.RequesterID {
		return false
	}
	if filter.DeviceID != nil && ticket.DeviceID != *filter.DeviceID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if ticket.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.CreatedFrom != nil && ticket.CreatedAt.Before(*filter.CreatedFrom) {
		return false
	}
	if filter.CreatedTo != nil && ticket.CreatedAt.After(*filter.CreatedTo) {
		return false
	}
	return true
}

type deviceRepo struct {
	r   runner
	now func() time.Time
}

func (r *deviceRepo) GetDevice(_ context.Context, id string) (*domain.Device, error) {
	var out *domain.Device
	err := r.r.run(func(st *state) error {
		device, ok := st.devices[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = &device
		return nil
	})
	return out, err
}

func (r *deviceRepo) ListChildren(_ context.Context, deviceID string) ([]domain.DeviceChild, error) {
	var result []domain.DeviceChild
	err := r.r.run(func(st *state) error {
		for _, child := range st.children {
			if child.DeviceID == deviceID {
				result = append(result, child)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].AssetCode != result[j].AssetCode {
			return result[i].AssetCode < result[j].AssetCode
		}
		return result[i].ID < result[j].ID
	})
	return result, err
}

func (r *deviceRepo) LockChildren(_ context.Context, ids []string) ([]domain.DeviceChild, error) {
	var result []domain.DeviceChild
	err := r.r.run(func(st *state) error {
		for _, id := range ids {
			if child, ok := st.children[id]; ok {
				result = append(result, child)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, err
}

func (r *deviceRepo) LockDeviceChildren(ctx context.Context, deviceID string) ([]domain.DeviceChild, error) {
	result, err := r.ListChildren(ctx, deviceID)
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, err
}

func (r *deviceRepo) UpdateChildStatus(_ context.Context, id string, status domain.ChildStatus) error {
	return r.r.run(func(st *state) error {
		child, ok := st.children[id]
		if !ok {
			return pgx.ErrNoRows
		}
		child.CurrentStatus = status
		child.UpdatedAt = r.now()
		st.children[id] = child
		return nil
	})
}

type reservationRepo struct {
	r   runner
	now func() time.Time
}

func (r *reservationRepo) Create(_ context.Context, reservation *domain.Reservation) error {
	return r.r.run(func(st *state) error {
		reservation.CreatedAt = r.now()
		st.reservations = append(st.reservations, *reservation)
		return nil
	})
}

func (r *reservationRepo) Release(_ context.Context, ticketID, childID string, finalStatus *domain.ChildStatus, at time.Time) error {
	return r.r.run(func(st *state) error {
		for i := range st.reservations {
			res := &st.reservations[i]
			if res.TicketID == ticketID && res.ChildID == childID && res.ReleasedAt == nil {
				releasedAt := at
				res.ReleasedAt = &releasedAt
				if finalStatus != nil {
					fs := *finalStatus
					res.FinalStatus = &fs
				}
				return nil
			}
		}
		return pgx.ErrNoRows
	})
}

func (r *reservationRepo) ListByTicket(_ context.Context, ticketID string, includeReleased bool) ([]domain.Reservation, error) {
	return r.list(func(res domain.Reservation) bool {
		return res.TicketID == ticketID && (includeReleased || res.Active())
	})
}

func (r *reservationRepo) ListActiveByDevice(_ context.Context, deviceID string) ([]domain.Reservation, error) {
	return r.list(func(res domain.Reservation) bool {
		return res.DeviceID == deviceID && res.Active()
	})
}

func (r *reservationRepo) list(keep func(domain.Reservation) bool) ([]domain.Reservation, error) {
	var result []domain.Reservation
	err := r.r.run(func(st *state) error {
		for _, res := range st.reservations {
			child, ok := st.children[res.ChildID]
			if !ok {
				continue
			}
			ticket, ok := st.tickets[res.TicketID]
			if !ok {
				continue
			}
			res.DeviceID = child.DeviceID
			res.TicketStatus = ticket.Status
			res.DateRange = ticket.DateRange
			if keep(res) {
				result = append(result, res)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].ChildID != result[j].ChildID {
			return result[i].ChildID < result[j].ChildID
		}
		return result[i].TicketID < result[j].TicketID
	})
	return result, err
}

type historyRepo struct {
	r   runner
	now func() time.Time
}

func (r *historyRepo) Create(_ context.Context, history *domain.TicketHistory) error {
	return r.r.run(func(st *state) error {
		history.CreatedAt = r.now()
		st.history = append(st.history, *history)
		return nil
	})
}

func (r *historyRepo) ListByTicket(_ context.Context, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	var result []domain.TicketHistory
	err := r.r.run(func(st *state) error {
		for _, entry := range st.history {
			if entry.TicketID == ticketID {
				result = append(result, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paginate(result, limit, offset, 100), nil
}

type userRepo struct {
	r runner
}

func (r *userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	var out *domain.User
	err := r.r.run(func(st *state) error {
		user, ok := st.users[id]
		if !ok {
			return pgx.ErrNoRows
		}
		out = &user
		return nil
	})
	return out, err
}

func (r *userRepo) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	var result []domain.User
	err := r.r.run(func(st *state) error {
		for _, user := range st.users {
			if filter.Role != nil && user.Role != *filter.Role {
				continue
			}
			if filter.DepartmentID != nil && (user.DepartmentID == nil || *user.DepartmentID != *filter.DepartmentID) {
				continue
			}
			if filter.SectionID != nil && (user.SectionID == nil || *user.SectionID != *filter.SectionID) {
				continue
			}
			if filter.Active != nil && user.Active != *filter.Active {
				continue
			}
			result = append(result, user)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return paginate(result, filter.Limit, filter.Offset, 50), nil
}

func paginate[T any](items []T, limit, offset, def int) []T {
	if limit <= 0 {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
