package service

import (
	"github.com/orbis-track/borrow-service/internal/domain"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// UnitState is a unit id with the status it has in a snapshot.
type UnitState struct {
	ChildID string
	Status  domain.ChildStatus
}

// RemovedUnit is a unit leaving the ticket and the status to leave it in.
type RemovedUnit struct {
	ChildID         string
	StatusAtRemoval domain.ChildStatus
}

// UpdatedUnit is a unit that stays attached with a changed status.
type UpdatedUnit struct {
	ChildID   string
	OldStatus domain.ChildStatus
	NewStatus domain.ChildStatus
}

// ChangeSet is the minimal set of operations turning one unit snapshot into another.
type ChangeSet struct {
	ToAdd    []string
	ToRemove []RemovedUnit
	ToUpdate []UpdatedUnit
}

// Empty reports whether applying the change set would do nothing.
func (c ChangeSet) Empty() bool {
	return len(c.ToAdd) == 0 && len(c.ToRemove) == 0 && len(c.ToUpdate) == 0
}

// Diff compares two snapshots. Units only transiently present in between never show up,
// and a unit removed then re-added is at most a status update.
func Diff(original, desired []UnitState) ChangeSet {
	orig := make(map[string]domain.ChildStatus, len(original))
	for _, u := range original {
		orig[u.ChildID] = u.Status
	}
	want := make(map[string]domain.ChildStatus, len(desired))
	for _, u := range desired {
		want[u.ChildID] = u.Status
	}

	cs := ChangeSet{}
	seen := make(map[string]struct{}, len(desired))
	for _, u := range desired {
		if _, dup := seen[u.ChildID]; dup {
			continue
		}
		seen[u.ChildID] = struct{}{}
		if _, ok := orig[u.ChildID]; !ok {
			cs.ToAdd = append(cs.ToAdd, u.ChildID)
		}
	}
	seen = make(map[string]struct{}, len(original))
	for _, u := range original {
		if _, dup := seen[u.ChildID]; dup {
			continue
		}
		seen[u.ChildID] = struct{}{}
		newStatus, ok := want[u.ChildID]
		if !ok {
			cs.ToRemove = append(cs.ToRemove, RemovedUnit{ChildID: u.ChildID, StatusAtRemoval: orig[u.ChildID]})
			continue
		}
		if newStatus != orig[u.ChildID] {
			cs.ToUpdate = append(cs.ToUpdate, UpdatedUnit{ChildID: u.ChildID, OldStatus: orig[u.ChildID], NewStatus: newStatus})
		}
	}
	return cs
}

// SessionAction is one edit a staff member makes to a ticket's unit list.
type SessionAction string

const (
	ActionAdd       SessionAction = "ADD"
	ActionRemove    SessionAction = "REMOVE"
	ActionSetStatus SessionAction = "SET_STATUS"
)

// SessionEvent is one entry in an edit session's log. Status is optional for ADD and
// REMOVE and defaults to the unit's working or original status (READY for new units).
type SessionEvent struct {
	ChildID string
	Action  SessionAction
	Status  domain.ChildStatus
}

// ReconcileSession folds an append-only event log over an original snapshot.
type ReconcileSession struct {
	original []UnitState
	log      []SessionEvent
}

// NewReconcileSession starts a session from the units attached when editing began.
func NewReconcileSession(original []UnitState) *ReconcileSession {
	return &ReconcileSession{original: append([]UnitState(nil), original...)}
}

// Record appends an event.
func (s *ReconcileSession) Record(events ...SessionEvent) {
	s.log = append(s.log, events...)
}

// Desired replays the log and returns the working snapshot it produces.
func (s *ReconcileSession) Desired() ([]UnitState, error) {
	desired, _, err := s.fold()
	return desired, err
}

// Finalize folds the log into a change set.
func (s *ReconcileSession) Finalize() (ChangeSet, error) {
	desired, removedStatus, err := s.fold()
	if err != nil {
		return ChangeSet{}, err
	}
	cs := Diff(s.original, desired)
	for i := range cs.ToRemove {
		if status, ok := removedStatus[cs.ToRemove[i].ChildID]; ok {
			cs.ToRemove[i].StatusAtRemoval = status
		}
	}
	return cs, nil
}

func (s *ReconcileSession) fold() ([]UnitState, map[string]domain.ChildStatus, error) {
	order := make([]string, 0, len(s.original))
	listed := make(map[string]struct{}, len(s.original))
	working := make(map[string]domain.ChildStatus, len(s.original))
	originalStatus := make(map[string]domain.ChildStatus, len(s.original))
	for _, u := range s.original {
		if _, ok := listed[u.ChildID]; !ok {
			listed[u.ChildID] = struct{}{}
			order = append(order, u.ChildID)
		}
		working[u.ChildID] = u.Status
		originalStatus[u.ChildID] = u.Status
	}
	removedStatus := make(map[string]domain.ChildStatus)

	for i, ev := range s.log {
		if ev.ChildID == "" {
			return nil, nil, apperrors.NewValidationError("event child_id required", map[string]any{"event_index": i})
		}
		if ev.Status != "" && !ev.Status.Valid() {
			return nil, nil, apperrors.NewValidationError("unknown unit status", map[string]any{"event_index": i, "status": ev.Status})
		}
		current, present := working[ev.ChildID]
		switch ev.Action {
		case ActionAdd:
			status := ev.Status
			if status == "" {
				status = current
			}
			if status == "" {
				status = originalStatus[ev.ChildID]
			}
			if status == "" {
				status = domain.ChildStatusReady
			}
			if _, ok := listed[ev.ChildID]; !ok {
				listed[ev.ChildID] = struct{}{}
				order = append(order, ev.ChildID)
			}
			working[ev.ChildID] = status
			delete(removedStatus, ev.ChildID)
		case ActionRemove:
			if !present {
				return nil, nil, apperrors.NewValidationError("cannot remove a unit that is not attached", map[string]any{"event_index": i, "child_id": ev.ChildID})
			}
			status := current
			if ev.Status != "" {
				status = ev.Status
			}
			removedStatus[ev.ChildID] = status
			delete(working, ev.ChildID)
		case ActionSetStatus:
			if !present {
				return nil, nil, apperrors.NewValidationError("cannot update a unit that is not attached", map[string]any{"event_index": i, "child_id": ev.ChildID})
			}
			if ev.Status == "" {
				return nil, nil, apperrors.NewValidationError("status required", map[string]any{"event_index": i})
			}
			working[ev.ChildID] = ev.Status
		default:
			return nil, nil, apperrors.NewValidationError("unknown action", map[string]any{"event_index": i, "action": ev.Action})
		}
	}

	desired := make([]UnitState, 0, len(working))
	for _, id := range order {
		if status, ok := working[id]; ok {
			desired = append(desired, UnitState{ChildID: id, Status: status})
		}
	}
	return desired, removedStatus, nil
}
