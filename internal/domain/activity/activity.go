package activity

import "time"

// LoginActivity is an append-only audit record of one successful login.
// It is inserted in the same transaction that bumps the user's login counter.
type LoginActivity struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserAgent string    `json:"userAgent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
