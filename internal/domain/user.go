package domain

import "time"

// UserRole is the organizational role resolved by the directory.
type UserRole string

const (
	UserRoleEmployee UserRole = "EMPLOYEE"
	UserRoleStaff    UserRole = "STAFF"
	UserRoleHOS      UserRole = "HOS"
	UserRoleHOD      UserRole = "HOD"
	UserRoleAdmin    UserRole = "ADMIN"
)

// User is the directory record for a person who borrows, approves or manages devices.
type User struct {
	ID           string
	Name         string
	Email        string
	Role         UserRole
	DepartmentID *string
	SectionID    *string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserScope is the organizational placement of a user.
type UserScope struct {
	UserID       string
	DepartmentID string
	SectionID    string
	Role         UserRole
}

// ScopeOf derives the scope of a directory record.
func ScopeOf(u *User) UserScope {
	scope := UserScope{UserID: u.ID, Role: u.Role}
	if u.DepartmentID != nil {
		scope.DepartmentID = *u.DepartmentID
	}
	if u.SectionID != nil {
		scope.SectionID = *u.SectionID
	}
	return scope
}
