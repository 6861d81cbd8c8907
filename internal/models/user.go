package models

import (
	"time"
)

type UserRole string

const (
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
	RoleCreator UserRole = "creator"
)

type PlanID string

const (
	PlanFree PlanID = "free"
	PlanPro  PlanID = "pro"
)

// UserAccount is the per-identity profile document. It is stored in the
// document store under the "profile:" namespace, not in a relational table,
// so the identity provider remains the source of truth for credentials.
type UserAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	Plan      PlanID    `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

func ValidRole(r UserRole) bool {
	switch r {
	case RoleTeacher, RoleStudent, RoleCreator:
		return true
	}
	return false
}
