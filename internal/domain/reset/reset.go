package reset

import (
	"errors"
	"time"
)

const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

var (
	ErrNotFound        = errors.New("password reset request not found")
	ErrAlreadyResolved = errors.New("password reset request already resolved")
)

// Request is a pending or resolved request to replace a user's password.
// Status only ever moves PENDING -> APPROVED or PENDING -> REJECTED.
type Request struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	UserEmail  string    `json:"userEmail"`
	Status     string    `json:"status"`
	ResolvedBy *string   `json:"resolvedBy"`
	Note       *string   `json:"note"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (r Request) Pending() bool {
	return r.Status == StatusPending
}
