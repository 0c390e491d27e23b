package service

import (
	"reflect"
	"sort"
	"testing"

	"github.com/orbis-track/borrow-service/internal/domain"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

func ready(id string) UnitState    { return UnitState{ChildID: id, Status: domain.ChildStatusReady} }
func borrowed(id string) UnitState { return UnitState{ChildID: id, Status: domain.ChildStatusBorrowed} }

func TestReconcileSessionFinalize(t *testing.T) {
	original := []UnitState{ready("C1"), ready("C2")}
	cases := []struct {
		name   string
		events []SessionEvent
		want   ChangeSet
	}{
		{
			name:   "add then remove cancels out",
			events: []SessionEvent{{ChildID: "C7", Action: ActionAdd}, {ChildID: "C7", Action: ActionRemove}},
			want:   ChangeSet{},
		},
		{
			name:   "remove then re-add with same status is a no-op",
			events: []SessionEvent{{ChildID: "C1", Action: ActionRemove}, {ChildID: "C1", Action: ActionAdd}},
			want:   ChangeSet{},
		},
		{
			name: "remove then re-add with another status is an update",
			events: []SessionEvent{
				{ChildID: "C1", Action: ActionRemove},
				{ChildID: "C1", Action: ActionAdd, Status: domain.ChildStatusDamaged},
			},
			want: ChangeSet{ToUpdate: []UpdatedUnit{{ChildID: "C1", OldStatus: domain.ChildStatusReady, NewStatus: domain.ChildStatusDamaged}}},
		},
		{
			name: "status edit on an attached unit",
			events: []SessionEvent{
				{ChildID: "C2", Action: ActionSetStatus, Status: domain.ChildStatusRepairing},
			},
			want: ChangeSet{ToUpdate: []UpdatedUnit{{ChildID: "C2", OldStatus: domain.ChildStatusReady, NewStatus: domain.ChildStatusRepairing}}},
		},
		{
			name: "removal records the status at removal",
			events: []SessionEvent{
				{ChildID: "C2", Action: ActionRemove, Status: domain.ChildStatusDamaged},
				{ChildID: "C3", Action: ActionAdd},
			},
			want: ChangeSet{
				ToAdd:    []string{"C3"},
				ToRemove: []RemovedUnit{{ChildID: "C2", StatusAtRemoval: domain.ChildStatusDamaged}},
			},
		},
		{
			name: "new unit edited before commit is a plain add",
			events: []SessionEvent{
				{ChildID: "C9", Action: ActionAdd},
				{ChildID: "C9", Action: ActionSetStatus, Status: domain.ChildStatusDamaged},
			},
			want: ChangeSet{ToAdd: []string{"C9"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := NewReconcileSession(original)
			session.Record(tc.events...)
			got, err := session.Finalize()
			if err != nil {
				t.Fatalf("finalize: %v", err)
			}
			if !reflect.DeepEqual(normalize(got), normalize(tc.want)) {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestReconcileSessionRejectsBadEvents(t *testing.T) {
	cases := []struct {
		name  string
		event SessionEvent
	}{
		{"remove unattached", SessionEvent{ChildID: "C9", Action: ActionRemove}},
		{"edit unattached", SessionEvent{ChildID: "C9", Action: ActionSetStatus, Status: domain.ChildStatusDamaged}},
		{"edit without status", SessionEvent{ChildID: "C1", Action: ActionSetStatus}},
		{"unknown status", SessionEvent{ChildID: "C1", Action: ActionSetStatus, Status: "BROKEN"}},
		{"unknown action", SessionEvent{ChildID: "C1", Action: "SWAP"}},
		{"missing id", SessionEvent{Action: ActionAdd}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := NewReconcileSession([]UnitState{ready("C1")})
			session.Record(tc.event)
			if _, err := session.Finalize(); !apperrors.HasCode(err, apperrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDiffRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		original []UnitState
		desired  []UnitState
	}{
		{"empty to some", nil, []UnitState{ready("A"), ready("B")}},
		{"some to empty", []UnitState{ready("A"), borrowed("B")}, nil},
		{"mixed", []UnitState{ready("A"), borrowed("B"), ready("C")}, []UnitState{ready("C"), {ChildID: "B", Status: domain.ChildStatusDamaged}, ready("D")}},
		{"identical", []UnitState{ready("A")}, []UnitState{ready("A")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cs := Diff(tc.original, tc.desired)
			got := apply(tc.original, tc.desired, cs)
			if !reflect.DeepEqual(asMap(got), asMap(tc.desired)) {
				t.Fatalf("apply(original, diff) = %v, want %v", got, tc.desired)
			}
			if reflect.DeepEqual(asMap(tc.original), asMap(tc.desired)) && !cs.Empty() {
				t.Fatalf("identical snapshots must diff to nothing, got %+v", cs)
			}
		})
	}
}

// apply plays a change set against a snapshot. Added units take their status from desired.
func apply(original, desired []UnitState, cs ChangeSet) []UnitState {
	state := asMap(original)
	want := asMap(desired)
	for _, id := range cs.ToAdd {
		state[id] = want[id]
	}
	for _, r := range cs.ToRemove {
		delete(state, r.ChildID)
	}
	for _, u := range cs.ToUpdate {
		state[u.ChildID] = u.NewStatus
	}
	out := make([]UnitState, 0, len(state))
	for id, status := range state {
		out = append(out, UnitState{ChildID: id, Status: status})
	}
	return out
}

func asMap(units []UnitState) map[string]domain.ChildStatus {
	out := make(map[string]domain.ChildStatus, len(units))
	for _, u := range units {
		out[u.ChildID] = u.Status
	}
	return out
}

func normalize(cs ChangeSet) ChangeSet {
	if len(cs.ToAdd) == 0 {
		cs.ToAdd = nil
	}
	if len(cs.ToRemove) == 0 {
		cs.ToRemove = nil
	}
	if len(cs.ToUpdate) == 0 {
		cs.ToUpdate = nil
	}
	sort.Strings(cs.ToAdd)
	return cs
}
