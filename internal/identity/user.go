// Package identity exposes the read-only user records the engine consumes.
package identity

import (
	"context"
	"errors"
)

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

// ErrNotFound is returned when the directory has no such user.
var ErrNotFound = errors.New("identity: user not found")

// User is a directory record.
type User struct {
	ID         string         `json:"id"`
	Email      string         `json:"email,omitempty"`
	Name       string         `json:"name,omitempty"`
	Status     Status         `json:"status"`
	Department string         `json:"department,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Active reports whether the account may be authorized at all.
func (u User) Active() bool { return u.Status == StatusActive }

// Bag renders the user as the "user" section of a policy evaluation bag.
func (u User) Bag() map[string]any {
	out := map[string]any{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"status":     string(u.Status),
		"department": u.Department,
	}
	if len(u.Attributes) > 0 {
		attrs := make(map[string]any, len(u.Attributes))
		for k, v := range u.Attributes {
			attrs[k] = v
		}
		out["attributes"] = attrs
	}
	return out
}

// Directory is the identity store collaborator.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
}
