package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbis-track/borrow-service/internal/config"
	"github.com/orbis-track/borrow-service/internal/directory"
	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/events"
	"github.com/orbis-track/borrow-service/internal/repository/memory"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type serviceFixture struct {
	store    *memory.Store
	service  *TicketService
	recorded *recordedEvents
	now      time.Time
	users    map[string]*domain.User
}

func strPtr(v string) *string { return &v }

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:    memory.NewStore(),
		recorded: &recordedEvents{},
		now:      time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC),
		users:    map[string]*domain.User{},
	}
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)

	for _, u := range []domain.User{
		{ID: "emp-1", Role: domain.UserRoleEmployee, DepartmentID: strPtr("D1"), SectionID: strPtr("S1"), Active: true},
		{ID: "emp-2", Role: domain.UserRoleEmployee, DepartmentID: strPtr("D1"), SectionID: strPtr("S1"), Active: true},
		{ID: "hos-1", Role: domain.UserRoleHOS, DepartmentID: strPtr("D1"), SectionID: strPtr("S1"), Active: true},
		{ID: "hod-1", Role: domain.UserRoleHOD, DepartmentID: strPtr("D1"), Active: true},
		{ID: "admin-1", Role: domain.UserRoleAdmin, Active: true},
		{ID: "staff-1", Role: domain.UserRoleStaff, Active: true},
	} {
		user := u
		f.store.PutUser(user)
		f.users[user.ID] = &user
	}
	f.store.PutDevice(domain.Device{ID: "dev-1", Name: "Projector"})
	for _, child := range []domain.DeviceChild{
		{ID: "u1", DeviceID: "dev-1", AssetCode: "A-001", CurrentStatus: domain.ChildStatusReady},
		{ID: "u2", DeviceID: "dev-1", AssetCode: "A-002", CurrentStatus: domain.ChildStatusReady},
		{ID: "u3", DeviceID: "dev-1", AssetCode: "A-003", CurrentStatus: domain.ChildStatusReady},
	} {
		f.store.PutChild(child)
	}

	dir := directory.NewRepositoryDirectory(f.store.Users())
	dispatcher := events.NewInMemoryDispatcher(nil)
	for _, eventType := range []events.EventType{
		events.EventTicketCreated, events.EventStepApproved, events.EventTicketApproved,
		events.EventTicketRejected, events.EventPickupConfirmed, events.EventDevicesReconciled,
		events.EventTicketReturned,
	} {
		dispatcher.Subscribe(eventType, f.recorded.handle)
	}
	f.service = NewTicketService(TicketDependencies{
		Store:      f.store,
		Directory:  dir,
		Chain:      NewChainResolver(config.DefaultChainPolicy(), dir),
		Dispatcher: dispatcher,
		Clock:      clock,
	})
	return f
}

func (f *serviceFixture) create(t *testing.T, requester string, units int) *domain.Ticket {
	t.Helper()
	ticket, err := f.service.CreateTicket(context.Background(), f.users[requester], TicketCreateInput{
		DeviceID:           "dev-1",
		DateRange:          domain.DateRange{Start: date(2025, 1, 10), End: date(2025, 1, 15)},
		Purpose:            "Workshop",
		UsageLocation:      "Room 4",
		RequestedUnitCount: units,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return ticket
}

func (f *serviceFixture) approveAll(t *testing.T, ticketID string) *domain.Ticket {
	t.Helper()
	var ticket *domain.Ticket
	for i, approver := range []string{"hos-1", "hod-1", "admin-1"} {
		var err error
		ticket, err = f.service.ApproveStep(context.Background(), f.users[approver], ticketID, i)
		if err != nil {
			t.Fatalf("approve stage %d: %v", i, err)
		}
	}
	return ticket
}

func (f *serviceFixture) held(t *testing.T, ticketID string) []string {
	t.Helper()
	ids, err := activeChildIDs(context.Background(), f.store, ticketID)
	if err != nil {
		t.Fatalf("held units: %v", err)
	}
	return ids
}

func (f *serviceFixture) childStatus(t *testing.T, id string) domain.ChildStatus {
	t.Helper()
	children, err := f.store.Devices().LockChildren(context.Background(), []string{id})
	if err != nil || len(children) != 1 {
		t.Fatalf("load child %s: %v", id, err)
	}
	return children[0].CurrentStatus
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreateTicketResolvesChainAndReserves(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.create(t, "emp-1", 2)

	if ticket.Status != domain.TicketStatusPending || ticket.CurrentStageIndex != 0 {
		t.Fatalf("new ticket = %s at %d", ticket.Status, ticket.CurrentStageIndex)
	}
	if len(ticket.Timeline) != 3 {
		t.Fatalf("timeline length = %d, want 3", len(ticket.Timeline))
	}
	if got := f.held(t, ticket.ID); !equalStrings(got, []string{"u1", "u2"}) {
		t.Fatalf("reserved = %v, want [u1 u2]", got)
	}

	view, err := f.service.GetTicket(context.Background(), f.users["emp-1"], ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !equalStrings(view.Steps[0].Candidates, []string{"hos-1"}) {
		t.Fatalf("stage 0 candidates = %v", view.Steps[0].Candidates)
	}
	if !equalStrings(view.Steps[2].Candidates, []string{"admin-1"}) {
		t.Fatalf("stage 2 candidates = %v", view.Steps[2].Candidates)
	}

	if _, err := f.service.GetTicket(context.Background(), f.users["emp-2"], ticket.ID); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("other employee: expected forbidden, got %v", err)
	}
	types := f.recorded.types()
	if len(types) != 1 || types[0] != events.EventTicketCreated {
		t.Fatalf("events = %v", types)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	f := newServiceFixture(t)
	cases := []struct {
		name     string
		input    TicketCreateInput
		wantCode string
	}{
		{"empty", TicketCreateInput{}, apperrors.CodeValidation},
		{"unknown device", TicketCreateInput{
			DeviceID: "nope", DateRange: domain.DateRange{Start: date(2025, 1, 10), End: date(2025, 1, 11)},
			Purpose: "x", UsageLocation: "y", RequestedUnitCount: 1,
		}, apperrors.CodeNotFound},
		{"too many units", TicketCreateInput{
			DeviceID: "dev-1", DateRange: domain.DateRange{Start: date(2025, 1, 10), End: date(2025, 1, 11)},
			Purpose: "x", UsageLocation: "y", RequestedUnitCount: 4,
		}, apperrors.CodeConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CreateTicket(context.Background(), f.users["emp-1"], tc.input)
			if !apperrors.HasCode(err, tc.wantCode) {
				t.Fatalf("expected %s, got %v", tc.wantCode, err)
			}
		})
	}
	tickets, err := f.service.ListTickets(context.Background(), f.users["admin-1"], TicketListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tickets) != 0 {
		t.Fatalf("failed creates left %d tickets behind", len(tickets))
	}
}

func TestCreateTicketMissingApprover(t *testing.T) {
	f := newServiceFixture(t)
	hod := *f.users["hod-1"]
	hod.Active = false
	f.store.PutUser(hod)

	_, err := f.service.CreateTicket(context.Background(), f.users["emp-1"], TicketCreateInput{
		DeviceID: "dev-1", DateRange: domain.DateRange{Start: date(2025, 1, 10), End: date(2025, 1, 11)},
		Purpose: "x", UsageLocation: "y", RequestedUnitCount: 1,
	})
	if !apperrors.HasCode(err, apperrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestApprovalChainToApproved(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.create(t, "emp-1", 1)
	ctx := context.Background()

	if _, err := f.service.ApproveStep(ctx, f.users["hod-1"], ticket.ID, 0); !apperrors.HasCode(err, apperrors.CodeUnauthorized) {
		t.Fatalf("out-of-order approver: expected unauthorized, got %v", err)
	}
	if err := apperrors.ToDomainError(apperrors.NewNotApprover("x", nil)); err.HTTPStatus != 403 {
		t.Fatalf("not-approver status = %d", err.HTTPStatus)
	}

	got, err := f.service.ApproveStep(ctx, f.users["hos-1"], ticket.ID, 0)
	if err != nil {
		t.Fatalf("hos approve: %v", err)
	}
	if got.CurrentStageIndex != 1 || got.Status != domain.TicketStatusPending {
		t.Fatalf("after hos = %s at %d", got.Status, got.CurrentStageIndex)
	}
	if _, err := f.service.ApproveStep(ctx, f.users["hos-1"], ticket.ID, 0); !apperrors.HasCode(err, apperrors.CodeConcurrencyConflict) {
		t.Fatalf("stale index: expected concurrency conflict, got %v", err)
	}
	if _, err := f.service.ApproveStep(ctx, f.users["hod-1"], ticket.ID, 1); err != nil {
		t.Fatalf("hod approve: %v", err)
	}
	final, err := f.service.ApproveStep(ctx, f.users["admin-1"], ticket.ID, 2)
	if err != nil {
		t.Fatalf("admin approve: %v", err)
	}
	if final.Status != domain.TicketStatusApproved {
		t.Fatalf("final status = %s", final.Status)
	}

	want := []events.EventType{
		events.EventTicketCreated,
		events.EventStepApproved, events.EventStepApproved, events.EventStepApproved,
		events.EventTicketApproved,
	}
	types := f.recorded.types()
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, types[i], want[i])
		}
	}

	history, err := f.service.ListHistory(ctx, f.users["emp-1"], ticket.ID, 0, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history entries = %d, want 4", len(history))
	}
}

func TestRejectAtDepartmentHead(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "emp-1", 2)
	if _, err := f.service.ApproveStep(ctx, f.users["hos-1"], ticket.ID, 0); err != nil {
		t.Fatalf("hos approve: %v", err)
	}
	if _, err := f.service.RejectStep(ctx, f.users["hod-1"], ticket.ID, 1, ""); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("blank reason: expected validation error, got %v", err)
	}

	rejected, err := f.service.RejectStep(ctx, f.users["hod-1"], ticket.ID, 1, "เอกสารไม่ครบ")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != domain.TicketStatusRejected || rejected.RejectReason != "เอกสารไม่ครบ" {
		t.Fatalf("rejected = %s %q", rejected.Status, rejected.RejectReason)
	}

	view, err := f.service.GetTicket(ctx, f.users["emp-1"], ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Steps[1].Step.Status != domain.StepStatusRejected || view.Steps[2].Step.Status != domain.StepStatusPending {
		t.Fatalf("steps = %s / %s", view.Steps[1].Step.Status, view.Steps[2].Step.Status)
	}
	if view.Steps[2].Candidates != nil {
		t.Fatal("closed tickets do not list candidates")
	}
	if held := f.held(t, ticket.ID); len(held) != 0 {
		t.Fatalf("rejected ticket still holds %v", held)
	}
	if _, err := f.service.ApproveStep(ctx, f.users["admin-1"], ticket.ID, 2); !apperrors.HasCode(err, apperrors.CodeConcurrencyConflict) {
		t.Fatalf("approve after reject: expected concurrency conflict, got %v", err)
	}
}

func TestFinalApprovalRechecksOverlapAndRollsBack(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.create(t, "emp-1", 2)
	// Only u3 is free of pending holds, so the second ticket has to share u1 with the first.
	second := f.create(t, "emp-2", 2)
	if got := f.held(t, second.ID); !equalStrings(got, []string{"u1", "u3"}) {
		t.Fatalf("second reserved %v", got)
	}
	f.approveAll(t, first.ID)

	for i, approver := range []string{"hos-1", "hod-1"} {
		if _, err := f.service.ApproveStep(ctx, f.users[approver], second.ID, i); err != nil {
			t.Fatalf("approve stage %d: %v", i, err)
		}
	}
	_, err := f.service.ApproveStep(ctx, f.users["admin-1"], second.ID, 2)
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	view, err := f.service.GetTicket(ctx, f.users["admin-1"], second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Ticket.Status != domain.TicketStatusPending || view.Ticket.CurrentStageIndex != 2 {
		t.Fatalf("failed approval left %s at %d", view.Ticket.Status, view.Ticket.CurrentStageIndex)
	}
	if view.Steps[2].Step.Status != domain.StepStatusPending {
		t.Fatal("failed approval must not persist the step")
	}

	// An approved ticket blocks new requests that need its units.
	_, err = f.service.CreateTicket(ctx, f.users["emp-2"], TicketCreateInput{
		DeviceID: "dev-1", DateRange: domain.DateRange{Start: date(2025, 1, 14), End: date(2025, 1, 20)},
		Purpose: "x", UsageLocation: "y", RequestedUnitCount: 2,
	})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("overlapping create: expected conflict, got %v", err)
	}
	if _, err := f.service.CreateTicket(ctx, f.users["emp-2"], TicketCreateInput{
		DeviceID: "dev-1", DateRange: domain.DateRange{Start: date(2025, 1, 15), End: date(2025, 1, 20)},
		Purpose: "x", UsageLocation: "y", RequestedUnitCount: 3,
	}); err != nil {
		t.Fatalf("back-to-back create: %v", err)
	}
}

func TestPickupAndReturn(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "emp-1", 2)

	if _, err := f.service.ConfirmPickup(ctx, f.users["staff-1"], ticket.ID, "Front desk"); !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("pickup of pending ticket: expected conflict, got %v", err)
	}
	f.approveAll(t, ticket.ID)
	if _, err := f.service.ConfirmPickup(ctx, f.users["emp-1"], ticket.ID, "Front desk"); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("employee pickup: expected forbidden, got %v", err)
	}
	inUse, err := f.service.ConfirmPickup(ctx, f.users["staff-1"], ticket.ID, "Front desk")
	if err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if inUse.Status != domain.TicketStatusInUse {
		t.Fatalf("status = %s", inUse.Status)
	}
	for _, id := range []string{"u1", "u2"} {
		if s := f.childStatus(t, id); s != domain.ChildStatusBorrowed {
			t.Fatalf("%s = %s, want BORROWED", id, s)
		}
	}

	f.now = date(2025, 1, 15).Add(time.Hour)
	view, err := f.service.GetTicket(ctx, f.users["emp-1"], ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !view.Overdue || view.DisplayStatus != domain.TicketStatusOverdue || view.Ticket.Status != domain.TicketStatusInUse {
		t.Fatalf("overdue view = %v %s %s", view.Overdue, view.DisplayStatus, view.Ticket.Status)
	}

	_, err = f.service.ReturnTicket(ctx, f.users["staff-1"], ticket.ID, []UnitDisposition{{ChildID: "u1", FinalStatus: domain.ChildStatusReady}}, "Store room")
	if !apperrors.HasCode(err, apperrors.CodeIncompleteDisposition) {
		t.Fatalf("partial return: expected incomplete disposition, got %v", err)
	}
	if s := f.childStatus(t, "u1"); s != domain.ChildStatusBorrowed {
		t.Fatalf("partial return changed u1 to %s", s)
	}

	done, err := f.service.ReturnTicket(ctx, f.users["staff-1"], ticket.ID, []UnitDisposition{
		{ChildID: "u1", FinalStatus: domain.ChildStatusReady},
		{ChildID: "u2", FinalStatus: domain.ChildStatusDamaged},
	}, "Store room")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if done.Status != domain.TicketStatusCompleted {
		t.Fatalf("status = %s", done.Status)
	}
	if s := f.childStatus(t, "u2"); s != domain.ChildStatusDamaged {
		t.Fatalf("u2 = %s, want DAMAGED", s)
	}

	view, err = f.service.GetTicket(ctx, f.users["emp-1"], ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Overdue {
		t.Fatal("completed tickets are never overdue")
	}
	if len(view.Units) != 2 {
		t.Fatalf("completed ticket shows %d units, want 2", len(view.Units))
	}
	for _, unit := range view.Units {
		if unit.Reservation.ReleasedAt == nil || unit.Reservation.FinalStatus == nil {
			t.Fatalf("unit %s not released with a final status", unit.Child.ID)
		}
	}
}

func TestManageDeviceChilds(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "emp-1", 2)
	f.approveAll(t, ticket.ID)

	_, err := f.service.ManageDeviceChilds(ctx, f.users["staff-1"], ticket.ID, ReconcileInput{
		Original: []UnitState{ready("u1")},
		Events:   []SessionEvent{{ChildID: "u3", Action: ActionAdd}},
	})
	if !apperrors.HasCode(err, apperrors.CodeConcurrencyConflict) {
		t.Fatalf("stale snapshot: expected concurrency conflict, got %v", err)
	}

	result, err := f.service.ManageDeviceChilds(ctx, f.users["staff-1"], ticket.ID, ReconcileInput{
		Original: []UnitState{ready("u1"), ready("u2")},
		Events: []SessionEvent{
			{ChildID: "u2", Action: ActionRemove},
			{ChildID: "u3", Action: ActionAdd},
			{ChildID: "u2", Action: ActionAdd},
			{ChildID: "u2", Action: ActionRemove},
		},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !equalStrings(result.ChangeSet.ToAdd, []string{"u3"}) || len(result.ChangeSet.ToRemove) != 1 || result.ChangeSet.ToRemove[0].ChildID != "u2" {
		t.Fatalf("change set = %+v", result.ChangeSet)
	}
	if got := f.held(t, ticket.ID); !equalStrings(got, []string{"u1", "u3"}) {
		t.Fatalf("held = %v, want [u1 u3]", got)
	}
	if len(result.Units) != 2 {
		t.Fatalf("result units = %d", len(result.Units))
	}

	if _, err := f.service.ManageDeviceChilds(ctx, f.users["emp-1"], ticket.ID, ReconcileInput{Desired: []UnitState{}}); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("employee reconcile: expected forbidden, got %v", err)
	}
	if _, err := f.service.ManageDeviceChilds(ctx, f.users["staff-1"], ticket.ID, ReconcileInput{Original: []UnitState{ready("u1"), ready("u3")}}); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("no events or desired: expected validation error, got %v", err)
	}

	noop, err := f.service.ManageDeviceChilds(ctx, f.users["staff-1"], ticket.ID, ReconcileInput{
		Original: []UnitState{ready("u1"), ready("u3")},
		Desired:  []UnitState{ready("u3"), ready("u1")},
	})
	if err != nil {
		t.Fatalf("no-op reconcile: %v", err)
	}
	if !noop.ChangeSet.Empty() {
		t.Fatalf("identical snapshot produced %+v", noop.ChangeSet)
	}
	reconciled := 0
	for _, typ := range f.recorded.types() {
		if typ == events.EventDevicesReconciled {
			reconciled++
		}
	}
	if reconciled != 1 {
		t.Fatalf("reconciled events = %d, want 1", reconciled)
	}
}

func TestManageDeviceChildsRejectsHeldUnit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.create(t, "emp-1", 1)
	f.approveAll(t, first.ID)
	second := f.create(t, "emp-2", 1)
	if got := f.held(t, second.ID); !equalStrings(got, []string{"u2"}) {
		t.Fatalf("second reserved %v", got)
	}

	_, err := f.service.ManageDeviceChilds(ctx, f.users["staff-1"], second.ID, ReconcileInput{
		Original: []UnitState{ready("u2")},
		Desired:  []UnitState{ready("u2"), ready("u1")},
	})
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if got := f.held(t, second.ID); !equalStrings(got, []string{"u2"}) {
		t.Fatalf("failed reconcile changed holds to %v", got)
	}

	available, err := f.service.FindAvailable(ctx, f.users["staff-1"], second.ID, nil, nil)
	if err != nil {
		t.Fatalf("find available: %v", err)
	}
	var ids []string
	for _, child := range available {
		ids = append(ids, child.ID)
	}
	if !equalStrings(ids, []string{"u2", "u3"}) {
		t.Fatalf("available = %v, want [u2 u3]", ids)
	}
}

func TestListTicketsScopesEmployees(t *testing.T) {
	f := newServiceFixture(t)
	f.create(t, "emp-1", 1)
	f.create(t, "emp-2", 1)
	ctx := context.Background()

	mine, err := f.service.ListTickets(ctx, f.users["emp-1"], TicketListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].RequesterID != "emp-1" {
		t.Fatalf("employee sees %d tickets", len(mine))
	}
	all, err := f.service.ListTickets(ctx, f.users["hod-1"], TicketListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("approver sees %d tickets, want 2", len(all))
	}
	pending, err := f.service.ListTickets(ctx, f.users["hod-1"], TicketListFilter{Statuses: []domain.TicketStatus{domain.TicketStatusApproved}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("status filter returned %d tickets", len(pending))
	}
}

func TestCreateTicketPrefersUncontendedUnits(t *testing.T) {
	f := newServiceFixture(t)
	first := f.create(t, "emp-1", 1)
	second := f.create(t, "emp-2", 1)
	if got := f.held(t, first.ID); !equalStrings(got, []string{"u1"}) {
		t.Fatalf("first reserved %v", got)
	}
	if got := f.held(t, second.ID); !equalStrings(got, []string{"u2"}) {
		t.Fatalf("second reserved %v, want a unit the first does not hold", got)
	}

	f.approveAll(t, first.ID)
	approved := f.approveAll(t, second.ID)
	if approved.Status != domain.TicketStatusApproved {
		t.Fatalf("second status = %s", approved.Status)
	}
}

func TestConcurrentApprovalsOnSameStage(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.create(t, "emp-1", 1)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		stale     atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.service.ApproveStep(context.Background(), f.users["hos-1"], ticket.ID, 0)
			switch {
			case err == nil:
				successes.Add(1)
			case apperrors.HasCode(err, apperrors.CodeConcurrencyConflict):
				stale.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes.Load() != 1 || stale.Load() != 1 {
		t.Fatalf("successes = %d, stale = %d, want 1 and 1", successes.Load(), stale.Load())
	}
	view, err := f.service.GetTicket(context.Background(), f.users["emp-1"], ticket.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Ticket.CurrentStageIndex != 1 {
		t.Fatalf("stage index = %d, want 1", view.Ticket.CurrentStageIndex)
	}
}

func TestManageDeviceChildsWhileInUse(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "emp-1", 2)
	f.approveAll(t, ticket.ID)
	if _, err := f.service.ConfirmPickup(ctx, f.users["staff-1"], ticket.ID, "Front desk"); err != nil {
		t.Fatalf("pickup: %v", err)
	}

	result, err := f.service.ManageDeviceChilds(ctx, f.users["staff-1"], ticket.ID, ReconcileInput{
		Original: []UnitState{borrowed("u1"), borrowed("u2")},
		Events: []SessionEvent{
			{ChildID: "u2", Action: ActionRemove},
			{ChildID: "u3", Action: ActionAdd},
		},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !equalStrings(result.ChangeSet.ToAdd, []string{"u3"}) {
		t.Fatalf("change set = %+v", result.ChangeSet)
	}
	if s := f.childStatus(t, "u3"); s != domain.ChildStatusBorrowed {
		t.Fatalf("added u3 = %s, want BORROWED", s)
	}
	if s := f.childStatus(t, "u2"); s != domain.ChildStatusReady {
		t.Fatalf("removed u2 = %s, want READY", s)
	}
	if got := f.held(t, ticket.ID); !equalStrings(got, []string{"u1", "u3"}) {
		t.Fatalf("held = %v, want [u1 u3]", got)
	}
}
