package model

import (
	"time"

	"github.com/google/uuid"
)

// User is an account that can hold an auth token.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthToken is an opaque pre-issued key bound to one user.
type AuthToken struct {
	Key       string    `json:"-"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CBTUser is the exam-platform profile linked one-to-one to a User.
type CBTUser struct {
	ID        uuid.UUID `json:"id"`
	UserID    int       `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the identity resolved from a request's token.
type Principal struct {
	UserID    int        `json:"user_id"`
	Username  string     `json:"username"`
	CBTUserID *uuid.UUID `json:"cbt_user_id,omitempty"`
}

// HasCBTProfile reports whether the principal has a CBTUser profile.
func (p *Principal) HasCBTProfile() bool {
	return p != nil && p.CBTUserID != nil
}
