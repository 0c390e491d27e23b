// Package directory adapts the organization's user records to the approval chain's
// view of scopes and candidate approvers.
package directory

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/orbis-track/borrow-service/internal/domain"
	"github.com/orbis-track/borrow-service/internal/repository"
	apperrors "github.com/orbis-track/borrow-service/pkg/util/errorutil"
)

const pageSize = 200

// RepositoryDirectory reads scopes and candidates straight from the user repository.
type RepositoryDirectory struct {
	users repository.UserRepository
}

// NewRepositoryDirectory constructs the adapter.
func NewRepositoryDirectory(users repository.UserRepository) *RepositoryDirectory {
	return &RepositoryDirectory{users: users}
}

// ResolveScope returns the organizational placement of an active user.
func (d *RepositoryDirectory) ResolveScope(ctx context.Context, userID string) (domain.UserScope, error) {
	user, err := d.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserScope{}, apperrors.NewNotFound("user", map[string]any{"user_id": userID})
		}
		return domain.UserScope{}, err
	}
	if !user.Active {
		return domain.UserScope{}, apperrors.NewForbidden("user is inactive")
	}
	return domain.ScopeOf(user), nil
}

// CandidatesFor lists active holders of the role within the scope, sorted by id.
// A section scope matches on section; a department scope on department; an empty
// scope matches the whole organization.
func (d *RepositoryDirectory) CandidatesFor(ctx context.Context, role domain.ApproverRole, scope domain.Scope) ([]string, error) {
	userRole := role.UserRole()
	active := true
	filter := repository.UserFilter{Role: &userRole, Active: &active, Limit: pageSize}
	switch {
	case scope.SectionID != "":
		section := scope.SectionID
		filter.SectionID = &section
	case scope.DepartmentID != "":
		department := scope.DepartmentID
		filter.DepartmentID = &department
	}

	var ids []string
	for {
		users, err := d.users.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, user := range users {
			ids = append(ids, user.ID)
		}
		if len(users) < pageSize {
			break
		}
		filter.Offset += pageSize
	}
	sort.Strings(ids)
	return ids, nil
}
