package types

import "time"

// Roles a user can hold. The role gates user management (admin only)
// and post mutation (owner or admin).
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleUser   = "user"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleUser:
		return true
	default:
		return false
	}
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's unique email address. Login is by email.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level within the
	// system ("admin", "editor" or "user").
	Role string `json:"role" db:"role"`

	// IsActive marks whether the account may log in. Inactive
	// accounts are rejected at login.
	IsActive bool `json:"isActive" db:"is_active"`

	// Avatar is an optional image reference for the account.
	Avatar string `json:"avatar,omitempty" db:"avatar"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// UserRef is the denormalized user view embedded in post responses.
type UserRef struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}

// Ref returns the denormalized view of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}
