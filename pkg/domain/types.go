package domain

import "time"

// UserRole controls what an authenticated user may do.
type UserRole string

const (
	RoleUser   UserRole = "user"
	RoleEditor UserRole = "editor"
	RoleAdmin  UserRole = "admin"
)

// ParseRole validates a role string.
func ParseRole(raw string) (UserRole, bool) {
	switch UserRole(raw) {
	case RoleUser, RoleEditor, RoleAdmin:
		return UserRole(raw), true
	default:
		return "", false
	}
}

// User is the account record shared by the auth service and its clients.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName,omitempty"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CanModerate reports whether the user may act on other users' content.
func (u User) CanModerate() bool {
	return u.Role == RoleAdmin || u.Role == RoleEditor
}
