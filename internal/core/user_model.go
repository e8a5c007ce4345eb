package core

import (
	"context"
	"time"
)

// User is a staff member as seen by the ledgers. Credentials live with the
// external auth service.
type User struct {
	ID        int
	Username  string
	FullName  string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
}

// Actor returns the caller identity used by the engines.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Role: u.Role}
}

// UserService provides user lookup operations.
type UserService interface {
	// GetByUsername finds an active user by username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByID returns a user by primary key.
	GetByID(ctx context.Context, userID int) (*User, error)
}
