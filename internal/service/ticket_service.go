package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/events"
	"github.com/orbis-track/borrow-service/internal/repository"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// TicketService coordinates borrow ticket workflows.
type TicketService struct {
	store        repository.Store
	directory    Directory
	chain        *ChainResolver
	availability *AvailabilityChecker
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	now          func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Directory  Directory
	Chain      *ChainResolver
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	DeviceID           string
	DateRange          domain.DateRange
	Purpose            string
	UsageLocation      string
	RequestedUnitCount int
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	OnlyMine bool
	DeviceID *string
	Statuses []domain.TicketStatus
	Limit    int
	Offset   int
}

// StepView is a timeline step with the approvers who may act on it right now.
type StepView struct {
	Step       domain.TimelineStep
	Candidates []string
}

// AttachedUnit is a reservation with the unit it binds.
type AttachedUnit struct {
	Reservation domain.Reservation
	Child       domain.DeviceChild
}

// TicketView is a ticket as a reader sees it at a given instant.
type TicketView struct {
	Ticket        *domain.Ticket
	DisplayStatus domain.TicketStatus
	Overdue       bool
	Steps         []StepView
	Units         []AttachedUnit
}

// ReconcileInput is an edit session submitted for commit. Either Events or Desired
// describes the target state; Original is the unit list the editor started from.
type ReconcileInput struct {
	Original []UnitState
	Events   []SessionEvent
	Desired  []UnitState
}

// ReconcileResult reports what a reconciliation commit applied.
type ReconcileResult struct {
	ChangeSet ChangeSet
	Units     []AttachedUnit
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		store:        deps.Store,
		directory:    deps.Directory,
		chain:        deps.Chain,
		availability: NewAvailabilityChecker(),
		dispatcher:   deps.Dispatcher,
		logger:       logger,
		now:          clock,
	}
}

// Now is the service clock, used to derive overdue state consistently with the service.
func (s *TicketService) Now() time.Time {
	return s.now()
}

// CreateTicket resolves the approval chain and reserves the first available units, taking
// units no other PENDING ticket holds for overlapping dates before contended ones.
func (s *TicketService) CreateTicket(ctx context.Context, requester *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if requester == nil {
		return nil, apperrors.NewUnauthorized("requester required")
	}
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	scope, err := s.directory.ResolveScope(ctx, requester.ID)
	if err != nil {
		return nil, notFoundAs(err, "requester", map[string]any{"user_id": requester.ID})
	}
	steps, err := s.chain.ResolveChain(ctx, scope)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeConfiguration) {
			s.logger.Error("approval chain unresolved", zap.String("requester_id", requester.ID), zap.Error(err))
		}
		return nil, err
	}

	ticket := &domain.Ticket{
		ID:                uuid.NewString(),
		ExternalKey:       generateTicketKey(),
		RequesterID:       requester.ID,
		DeviceID:          input.DeviceID,
		Status:            domain.TicketStatusPending,
		DateRange:         input.DateRange,
		Purpose:           strings.TrimSpace(input.Purpose),
		UsageLocation:     strings.TrimSpace(input.UsageLocation),
		CurrentStageIndex: 0,
		Timeline:          steps,
	}

	var reserved []string
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Devices().GetDevice(ctx, input.DeviceID); err != nil {
			return notFoundAs(err, "device", map[string]any{"device_id": input.DeviceID})
		}
		children, err := tx.Devices().LockDeviceChildren(ctx, input.DeviceID)
		if err != nil {
			return err
		}
		reservations, err := tx.Reservations().ListActiveByDevice(ctx, input.DeviceID)
		if err != nil {
			return err
		}
		available := filterAvailable(children, reservations, AvailabilityQuery{DeviceID: input.DeviceID, DateRange: input.DateRange})
		if len(available) < input.RequestedUnitCount {
			return apperrors.NewConflict("not enough units available for the requested dates", map[string]any{
				"requested": input.RequestedUnitCount,
				"available": len(available),
			})
		}

		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return err
		}
		available = preferUncontended(available, reservations, input.DateRange)
		for _, child := range available[:input.RequestedUnitCount] {
			res := &domain.Reservation{ID: uuid.NewString(), TicketID: ticket.ID, ChildID: child.ID, DeviceID: child.DeviceID}
			if err := tx.Reservations().Create(ctx, res); err != nil {
				return err
			}
			reserved = append(reserved, child.ID)
		}
		return s.recordHistory(ctx, tx, ticket.ID, requester.ID, domain.ChangeTypeCreated, nil, map[string]any{
			"status":    ticket.Status,
			"child_ids": reserved,
			"steps":     len(ticket.Timeline),
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketCreated,
		TicketID: ticket.ID,
		Actor:    events.Actor{UserID: requester.ID},
		Payload: events.TicketCreatedPayload{
			DeviceID:    ticket.DeviceID,
			ChildIDs:    reserved,
			FirstRole:   string(ticket.Timeline[0].RequiredRole),
			TotalSteps:  len(ticket.Timeline),
			ExternalKey: ticket.ExternalKey,
		},
	})
	return ticket, nil
}

// GetTicket returns the ticket with lazily computed candidates and its units.
func (s *TicketService) GetTicket(ctx context.Context, viewer *domain.User, ticketID string) (*TicketView, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(viewer, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return s.viewOf(ctx, ticket)
}

// ListTickets lists tickets visible to the viewer. Employees only ever see their own.
func (s *TicketService) ListTickets(ctx context.Context, viewer *domain.User, filter TicketListFilter) ([]domain.Ticket, error) {
	if viewer == nil {
		return nil, apperrors.NewUnauthorized("viewer required")
	}
	repoFilter := repository.TicketFilter{
		DeviceID: filter.DeviceID,
		Statuses: filter.Statuses,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}
	if filter.OnlyMine || viewer.Role == domain.UserRoleEmployee {
		repoFilter.RequesterID = &viewer.ID
	}
	return s.store.Tickets().ListWithFilter(ctx, repoFilter)
}

// ListHistory returns the audit trail of a ticket.
func (s *TicketService) ListHistory(ctx context.Context, viewer *domain.User, ticketID string, limit, offset int) ([]domain.TicketHistory, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(viewer, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	return s.store.History().ListByTicket(ctx, ticket.ID, limit, offset)
}

// ApproveStep approves the current step on behalf of actor.
func (s *TicketService) ApproveStep(ctx context.Context, actor *domain.User, ticketID string, expectedStageIndex int) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	candidates, err := s.stageCandidates(ctx, ticketID, expectedStageIndex)
	if err != nil {
		return nil, err
	}
	var (
		ticket *domain.Ticket
		step   domain.TimelineStep
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundAs(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		if _, err := checkStage(t, expectedStageIndex); err != nil {
			return err
		}
		approved, err := approveStep(t, actor.ID, expectedStageIndex, candidates, s.now())
		if err != nil {
			return err
		}
		if t.Status == domain.TicketStatusApproved {
			held, err := activeChildIDs(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			if err := ensureReservable(ctx, tx, t.DeviceID, t.DateRange, t.ID, held, false); err != nil {
				return err
			}
		}
		if err := tx.Tickets().UpdateStep(ctx, approved); err != nil {
			return err
		}
		if err := tx.Tickets().Update(ctx, t); err != nil {
			return err
		}
		if err := s.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeApproved,
			map[string]any{"current_stage_index": expectedStageIndex, "status": domain.TicketStatusPending},
			map[string]any{"current_stage_index": t.CurrentStageIndex, "status": t.Status, "step_number": approved.StepNumber},
		); err != nil {
			return err
		}
		ticket, step = t, *approved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventStepApproved,
		TicketID: ticket.ID,
		Actor:    events.Actor{UserID: actor.ID},
		Payload:  events.StepActionPayload{StepNumber: step.StepNumber, RequiredRole: step.RequiredRole, NewStatus: ticket.Status},
	})
	if ticket.Status == domain.TicketStatusApproved {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventTicketApproved,
			TicketID: ticket.ID,
			Actor:    events.Actor{UserID: actor.ID},
			Payload:  events.StepActionPayload{StepNumber: step.StepNumber, RequiredRole: step.RequiredRole, NewStatus: ticket.Status},
		})
	}
	return ticket, nil
}

// RejectStep rejects the ticket at its current step and releases its units.
func (s *TicketService) RejectStep(ctx context.Context, actor *domain.User, ticketID string, expectedStageIndex int, reason string) (*domain.Ticket, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("actor required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperrors.NewValidationError("reason required", nil)
	}
	candidates, err := s.stageCandidates(ctx, ticketID, expectedStageIndex)
	if err != nil {
		return nil, err
	}
	var (
		ticket *domain.Ticket
		step   domain.TimelineStep
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundAs(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		if _, err := checkStage(t, expectedStageIndex); err != nil {
			return err
		}
		now := s.now()
		rejected, err := rejectStep(t, actor.ID, expectedStageIndex, candidates, reason, now)
		if err != nil {
			return err
		}
		if err := tx.Tickets().UpdateStep(ctx, rejected); err != nil {
			return err
		}
		if err := tx.Tickets().Update(ctx, t); err != nil {
			return err
		}
		held, err := activeChildIDs(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		for _, childID := range held {
			if err := tx.Reservations().Release(ctx, t.ID, childID, nil, now); err != nil {
				return err
			}
		}
		if err := s.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeRejected,
			map[string]any{"status": domain.TicketStatusPending},
			map[string]any{"status": t.Status, "step_number": rejected.StepNumber, "reason": t.RejectReason, "released_child_ids": held},
		); err != nil {
			return err
		}
		ticket, step = t, *rejected
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketRejected,
		TicketID: ticket.ID,
		Actor:    events.Actor{UserID: actor.ID},
		Payload: events.StepActionPayload{
			StepNumber:   step.StepNumber,
			RequiredRole: step.RequiredRole,
			NewStatus:    ticket.Status,
			Reason:       ticket.RejectReason,
		},
	})
	return ticket, nil
}

// ConfirmPickup hands the attached units over and moves the ticket into use.
func (s *TicketService) ConfirmPickup(ctx context.Context, actor *domain.User, ticketID, pickupLocation string) (*domain.Ticket, error) {
	if err := requireDeviceManager(actor); err != nil {
		return nil, err
	}
	var (
		ticket *domain.Ticket
		held   []string
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundAs(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		if err := confirmPickup(t, pickupLocation); err != nil {
			return err
		}
		held, err = activeChildIDs(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return apperrors.NewConflict("ticket has no units attached", map[string]any{"ticket_id": t.ID})
		}
		if err := ensureReservable(ctx, tx, t.DeviceID, t.DateRange, t.ID, held, true); err != nil {
			return err
		}
		for _, childID := range held {
			if err := tx.Devices().UpdateChildStatus(ctx, childID, domain.ChildStatusBorrowed); err != nil {
				return err
			}
		}
		if err := tx.Tickets().Update(ctx, t); err != nil {
			return err
		}
		if err := s.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypePickup,
			map[string]any{"status": domain.TicketStatusApproved},
			map[string]any{"status": t.Status, "pickup_location": t.PickupLocation, "child_ids": held},
		); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventPickupConfirmed,
		TicketID: ticket.ID,
		Actor:    events.Actor{UserID: actor.ID},
		Payload:  events.PickupPayload{PickupLocation: ticket.PickupLocation, ChildIDs: held},
	})
	return ticket, nil
}

// ReturnTicket records every unit's condition, releases the units and completes the ticket.
func (s *TicketService) ReturnTicket(ctx context.Context, actor *domain.User, ticketID string, dispositions []UnitDisposition, returnLocation string) (*domain.Ticket, error) {
	if err := requireDeviceManager(actor); err != nil {
		return nil, err
	}
	if len(dispositions) == 0 {
		return nil, apperrors.NewValidationError("unit_dispositions required", nil)
	}
	var (
		ticket *domain.Ticket
		final  map[string]domain.ChildStatus
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundAs(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		held, err := activeChildIDs(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		final, err = completeReturn(t, held, dispositions, returnLocation)
		if err != nil {
			return err
		}
		if _, err := tx.Devices().LockChildren(ctx, held); err != nil {
			return err
		}
		now := s.now()
		for _, childID := range held {
			status := final[childID]
			if err := tx.Devices().UpdateChildStatus(ctx, childID, status); err != nil {
				return err
			}
			if err := tx.Reservations().Release(ctx, t.ID, childID, &status, now); err != nil {
				return err
			}
		}
		if err := tx.Tickets().Update(ctx, t); err != nil {
			return err
		}
		if err := s.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeReturned,
			map[string]any{"status": domain.TicketStatusInUse},
			map[string]any{"status": t.Status, "return_location": t.ReturnLocation, "final_statuses": final},
		); err != nil {
			return err
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:     events.EventTicketReturned,
		TicketID: ticket.ID,
		Actor:    events.Actor{UserID: actor.ID},
		Payload:  events.ReturnedPayload{FinalStatuses: final},
	})
	return ticket, nil
}

// FindAvailable lists units of the ticket's device that could be added to it. A nil range
// means the ticket's own range.
func (s *TicketService) FindAvailable(ctx context.Context, viewer *domain.User, ticketID string, rng *domain.DateRange, excludeChildIDs []string) ([]domain.DeviceChild, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !canView(viewer, ticket) {
		return nil, apperrors.NewForbidden("access denied")
	}
	query := AvailabilityQuery{
		DeviceID:        ticket.DeviceID,
		DateRange:       ticket.DateRange,
		ExcludeChildIDs: excludeChildIDs,
		IgnoreTicketID:  ticket.ID,
	}
	if rng != nil {
		query.DateRange = *rng
	}
	return s.availability.FindAvailable(ctx, s.store, query)
}

// ManageDeviceChilds commits an edit session against the ticket's attached units.
func (s *TicketService) ManageDeviceChilds(ctx context.Context, actor *domain.User, ticketID string, input ReconcileInput) (*ReconcileResult, error) {
	if err := requireDeviceManager(actor); err != nil {
		return nil, err
	}
	cs, desired, err := buildChangeSet(input)
	if err != nil {
		return nil, err
	}

	var ticket *domain.Ticket
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		t, err := tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFoundAs(err, "ticket", map[string]any{"ticket_id": ticketID})
		}
		if t.Status.Terminal() {
			return apperrors.NewConflict("ticket is closed", map[string]any{"status": t.Status})
		}
		held, err := activeChildIDs(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		lockedHeld, err := tx.Devices().LockChildren(ctx, held)
		if err != nil {
			return err
		}
		if !sameSnapshot(input.Original, lockedHeld) {
			return apperrors.NewConcurrencyConflict("attached units changed since editing began; refetch and retry", map[string]any{
				"current": snapshotOf(lockedHeld),
			})
		}
		if err := ensureReservable(ctx, tx, t.DeviceID, t.DateRange, t.ID, cs.ToAdd, true); err != nil {
			return err
		}

		now := s.now()
		for _, childID := range cs.ToAdd {
			res := &domain.Reservation{ID: uuid.NewString(), TicketID: t.ID, ChildID: childID, DeviceID: t.DeviceID}
			if err := tx.Reservations().Create(ctx, res); err != nil {
				return err
			}
			status := desired[childID]
			if t.Status == domain.TicketStatusInUse {
				status = domain.ChildStatusBorrowed
			}
			if status != domain.ChildStatusReady {
				if err := tx.Devices().UpdateChildStatus(ctx, childID, status); err != nil {
					return err
				}
			}
		}
		for _, removed := range cs.ToRemove {
			if err := tx.Reservations().Release(ctx, t.ID, removed.ChildID, nil, now); err != nil {
				return err
			}
			status := removed.StatusAtRemoval
			if status == domain.ChildStatusBorrowed {
				status = domain.ChildStatusReady
			}
			if err := tx.Devices().UpdateChildStatus(ctx, removed.ChildID, status); err != nil {
				return err
			}
		}
		for _, updated := range cs.ToUpdate {
			if err := tx.Devices().UpdateChildStatus(ctx, updated.ChildID, updated.NewStatus); err != nil {
				return err
			}
		}
		if !cs.Empty() {
			if err := s.recordHistory(ctx, tx, t.ID, actor.ID, domain.ChangeTypeReconciled,
				map[string]any{"child_ids": held},
				map[string]any{"added": cs.ToAdd, "removed": removedIDs(cs), "updated": updatedIDs(cs)},
			); err != nil {
				return err
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	units, err := s.attachedUnits(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if !cs.Empty() {
		s.publishEvent(ctx, events.Event{
			Type:     events.EventDevicesReconciled,
			TicketID: ticket.ID,
			Actor:    events.Actor{UserID: actor.ID},
			Payload:  events.ReconciledPayload{Added: cs.ToAdd, Removed: removedIDs(cs), Updated: updatedIDs(cs)},
		})
	}
	return &ReconcileResult{ChangeSet: cs, Units: units}, nil
}

// stageCandidates resolves approvers for the expected step before any row is locked. The
// step's role and scope never change, and the stage index is re-checked under lock.
func (s *TicketService) stageCandidates(ctx context.Context, ticketID string, expectedStageIndex int) ([]string, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	current, err := checkStage(ticket, expectedStageIndex)
	if err != nil {
		return nil, err
	}
	return s.chain.Candidates(ctx, *current)
}

func buildChangeSet(input ReconcileInput) (ChangeSet, map[string]domain.ChildStatus, error) {
	for _, u := range input.Original {
		if u.ChildID == "" || !u.Status.Valid() {
			return ChangeSet{}, nil, apperrors.NewValidationError("original snapshot has an invalid unit", map[string]any{"child_id": u.ChildID})
		}
	}
	var desired []UnitState
	if len(input.Events) > 0 {
		session := NewReconcileSession(input.Original)
		session.Record(input.Events...)
		cs, err := session.Finalize()
		if err != nil {
			return ChangeSet{}, nil, err
		}
		if desired, err = session.Desired(); err != nil {
			return ChangeSet{}, nil, err
		}
		return cs, statusIndex(desired), nil
	}
	if input.Desired == nil {
		return ChangeSet{}, nil, apperrors.NewValidationError("events or desired required", nil)
	}
	seen := make(map[string]struct{}, len(input.Desired))
	for _, u := range input.Desired {
		if u.ChildID == "" || !u.Status.Valid() {
			return ChangeSet{}, nil, apperrors.NewValidationError("desired snapshot has an invalid unit", map[string]any{"child_id": u.ChildID})
		}
		if _, dup := seen[u.ChildID]; dup {
			return ChangeSet{}, nil, apperrors.NewValidationError("duplicate unit in desired snapshot", map[string]any{"child_id": u.ChildID})
		}
		seen[u.ChildID] = struct{}{}
	}
	desired = input.Desired
	return Diff(input.Original, desired), statusIndex(desired), nil
}

func statusIndex(units []UnitState) map[string]domain.ChildStatus {
	out := make(map[string]domain.ChildStatus, len(units))
	for _, u := range units {
		out[u.ChildID] = u.Status
	}
	return out
}

func sameSnapshot(original []UnitState, current []domain.DeviceChild) bool {
	want := make(map[string]domain.ChildStatus, len(original))
	for _, u := range original {
		want[u.ChildID] = u.Status
	}
	if len(want) != len(current) {
		return false
	}
	for _, child := range current {
		status, ok := want[child.ID]
		if !ok || status != child.CurrentStatus {
			return false
		}
	}
	return true
}

func snapshotOf(children []domain.DeviceChild) []map[string]any {
	out := make([]map[string]any, 0, len(children))
	for _, child := range children {
		out = append(out, map[string]any{"child_id": child.ID, "status": child.CurrentStatus})
	}
	return out
}

func removedIDs(cs ChangeSet) []string {
	ids := make([]string, 0, len(cs.ToRemove))
	for _, r := range cs.ToRemove {
		ids = append(ids, r.ChildID)
	}
	return ids
}

func updatedIDs(cs ChangeSet) []string {
	ids := make([]string, 0, len(cs.ToUpdate))
	for _, u := range cs.ToUpdate {
		ids = append(ids, u.ChildID)
	}
	return ids
}

func (s *TicketService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFoundAs(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

func (s *TicketService) viewOf(ctx context.Context, ticket *domain.Ticket) (*TicketView, error) {
	now := s.now()
	view := &TicketView{
		Ticket:        ticket,
		DisplayStatus: ticket.DisplayStatus(now),
		Overdue:       ticket.IsOverdue(now),
		Steps:         make([]StepView, 0, len(ticket.Timeline)),
	}
	for i, step := range ticket.Timeline {
		sv := StepView{Step: step}
		if ticket.Status == domain.TicketStatusPending && i >= ticket.CurrentStageIndex && step.Status == domain.StepStatusPending {
			candidates, err := s.chain.Candidates(ctx, step)
			if err != nil {
				return nil, err
			}
			sv.Candidates = candidates
		}
		view.Steps = append(view.Steps, sv)
	}
	units, err := s.attachedUnits(ctx, ticket)
	if err != nil {
		return nil, err
	}
	view.Units = units
	return view, nil
}

// attachedUnits lists active units, or every unit ever attached once the ticket is closed.
func (s *TicketService) attachedUnits(ctx context.Context, ticket *domain.Ticket) ([]AttachedUnit, error) {
	reservations, err := s.store.Reservations().ListByTicket(ctx, ticket.ID, ticket.Status.Terminal())
	if err != nil {
		return nil, err
	}
	children, err := s.store.Devices().ListChildren(ctx, ticket.DeviceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.DeviceChild, len(children))
	for _, child := range children {
		byID[child.ID] = child
	}
	units := make([]AttachedUnit, 0, len(reservations))
	for _, res := range reservations {
		units = append(units, AttachedUnit{Reservation: res, Child: byID[res.ChildID]})
	}
	return units, nil
}

func activeChildIDs(ctx context.Context, tx repository.Store, ticketID string) ([]string, error) {
	reservations, err := tx.Reservations().ListByTicket(ctx, ticketID, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(reservations))
	for _, res := range reservations {
		ids = append(ids, res.ChildID)
	}
	sort.Strings(ids)
	return ids, nil
}

func validateCreateInput(input TicketCreateInput) error {
	details := map[string]any{}
	if strings.TrimSpace(input.DeviceID) == "" {
		details["device_id"] = "required"
	}
	if !input.DateRange.Valid() {
		details["date_range"] = "start must be before end"
	}
	if strings.TrimSpace(input.Purpose) == "" {
		details["purpose"] = "required"
	}
	if strings.TrimSpace(input.UsageLocation) == "" {
		details["usage_location"] = "required"
	}
	if input.RequestedUnitCount < 1 {
		details["requested_unit_count"] = "must be at least 1"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket request", details)
	}
	return nil
}

// canView allows the requester and anyone holding an organizational role above employee.
func canView(viewer *domain.User, ticket *domain.Ticket) bool {
	if viewer == nil {
		return false
	}
	if viewer.ID == ticket.RequesterID {
		return true
	}
	return viewer.Role != domain.UserRoleEmployee && viewer.Role != ""
}

func requireDeviceManager(actor *domain.User) error {
	if actor == nil {
		return apperrors.NewUnauthorized("actor required")
	}
	if actor.Role != domain.UserRoleStaff && actor.Role != domain.UserRoleAdmin {
		return apperrors.NewForbidden("staff role required")
	}
	return nil
}

func notFoundAs(err error, resource string, details map[string]any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, details)
	}
	return err
}

func (s *TicketService) recordHistory(ctx context.Context, tx repository.Store, ticketID, actorID string, change domain.TicketChangeType, oldValue, newValue map[string]any) error {
	entry := &domain.TicketHistory{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		ChangedByID: &actorID,
		ChangeType:  change,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	return tx.History().Create(ctx, entry)
}

func generateTicketKey() string {
	return "BRW-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func (s *TicketService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
