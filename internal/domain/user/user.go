package user

import (
	"errors"
	"time"
)

const (
	RoleUser   = "USER"
	RoleAdmin  = "ADMIN"
	RoleMaster = "MASTER"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrEmailAlreadyUsed = errors.New("email already in use")
	ErrCapacityExceeded = errors.New("active user capacity exceeded")
)

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // never expose hash in JSON
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	LoginCount   int        `json:"loginCount"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Public is the caller-facing projection of a User.
type Public struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	Active      bool       `json:"active"`
	LoginCount  int        `json:"loginCount"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

func (u User) Public() Public {
	return Public{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		Active:      u.Active,
		LoginCount:  u.LoginCount,
		LastLoginAt: u.LastLoginAt,
	}
}

// IsAdmin reports whether the user may act inside the admin dashboard.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin || u.Role == RoleMaster
}

// Patch is a minimal reconciliation delta; nil fields are left untouched.
type Patch struct {
	Role         *string
	Active       *bool
	PasswordHash *string
}

func (p Patch) Empty() bool {
	return p.Role == nil && p.Active == nil && p.PasswordHash == nil
}
