package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/orbis-track/borrow-service/internal/config"
	"github.com/orbis-track/borrow-service/internal/domain"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

// Directory resolves organizational placement and approver candidates.
// It is owned by the identity subsystem; implementations may cache.
type Directory interface {
	ResolveScope(ctx context.Context, userID string) (domain.UserScope, error)
	CandidatesFor(ctx context.Context, role domain.ApproverRole, scope domain.Scope) ([]string, error)
}

// ChainResolver turns a requester's scope into an ordered approval timeline.
type ChainResolver struct {
	policy    config.ChainPolicy
	directory Directory
}

// NewChainResolver constructs the resolver.
func NewChainResolver(policy config.ChainPolicy, directory Directory) *ChainResolver {
	return &ChainResolver{policy: policy, directory: directory}
}

// ResolveChain builds one PENDING step per policy level the requester has a scope for.
// Every included step must have at least one candidate approver right now.
func (r *ChainResolver) ResolveChain(ctx context.Context, requester domain.UserScope) ([]domain.TimelineStep, error) {
	steps := make([]domain.TimelineStep, 0, len(r.policy.Levels))
	for _, level := range r.policy.Levels {
		scope, ok := scopeFor(level.Scope, requester)
		if !ok {
			continue
		}
		candidates, err := r.directory.CandidatesFor(ctx, level.Role, scope)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, apperrors.NewConfigurationError("no approver configured for required scope", map[string]any{
				"role":          level.Role,
				"department_id": scope.DepartmentID,
				"section_id":    scope.SectionID,
			})
		}
		steps = append(steps, domain.TimelineStep{
			ID:           uuid.NewString(),
			StepNumber:   len(steps) + 1,
			RequiredRole: level.Role,
			Scope:        scope,
			Status:       domain.StepStatusPending,
		})
	}
	if len(steps) == 0 {
		return nil, apperrors.NewConfigurationError("approval chain resolved to no steps", map[string]any{
			"requester_id":  requester.UserID,
			"department_id": requester.DepartmentID,
		})
	}
	return steps, nil
}

// Candidates recomputes who may act on a step from the current directory state.
func (r *ChainResolver) Candidates(ctx context.Context, step domain.TimelineStep) ([]string, error) {
	return r.directory.CandidatesFor(ctx, step.RequiredRole, step.Scope)
}

func scopeFor(kind config.ScopeKind, requester domain.UserScope) (domain.Scope, bool) {
	switch kind {
	case config.ScopeSection:
		if requester.SectionID == "" {
			return domain.Scope{}, false
		}
		return domain.Scope{DepartmentID: requester.DepartmentID, SectionID: requester.SectionID}, true
	case config.ScopeDepartment:
		if requester.DepartmentID == "" {
			return domain.Scope{}, false
		}
		return domain.Scope{DepartmentID: requester.DepartmentID}, true
	case config.ScopeOrganization:
		return domain.Scope{}, true
	}
	return domain.Scope{}, false
}
