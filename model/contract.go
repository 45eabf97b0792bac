package model

import (
	"time"
)

// Role identifies one party of a contract.
type Role string

const (
	RoleStudent  Role = "etudiant"
	RoleEmployer Role = "entreprise"
)

// Valid reports whether r is one of the two contract roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleEmployer
}

// ContractStatus constants
const (
	StatusPending = "pending" // no party submitted
	StatusPartial = "partial" // exactly one party submitted
	StatusReady   = "ready"   // both parties submitted
)

// Tokens holds the access token of each party.
type Tokens struct {
	Student  string `json:"etudiant"`
	Employer string `json:"entreprise"`
}

// Contract represents an apprenticeship contract being filled by both parties
type Contract struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Status    string         `json:"status"`
	Tokens    Tokens         `json:"tokens"`
	Student   map[string]any `json:"etudiant"`
	Employer  map[string]any `json:"entreprise"`
}

// ComputeStatus derives the status from which parties have submitted data.
func ComputeStatus(student, employer map[string]any) string {
	switch {
	case student != nil && employer != nil:
		return StatusReady
	case student != nil || employer != nil:
		return StatusPartial
	default:
		return StatusPending
	}
}

func (c *Contract) StudentComplete() bool  { return c.Student != nil }
func (c *Contract) EmployerComplete() bool { return c.Employer != nil }

// Ready reports whether both parties have submitted.
func (c *Contract) Ready() bool {
	return ComputeStatus(c.Student, c.Employer) == StatusReady
}

// Data returns the submission of role, nil if none.
func (c *Contract) Data(role Role) map[string]any {
	switch role {
	case RoleStudent:
		return c.Student
	case RoleEmployer:
		return c.Employer
	}
	return nil
}

// Complete reports whether role has submitted.
func (c *Contract) Complete(role Role) bool {
	return c.Data(role) != nil
}

// SetData stores the submission of role and recomputes the status.
func (c *Contract) SetData(role Role, data map[string]any) {
	switch role {
	case RoleStudent:
		c.Student = data
	case RoleEmployer:
		c.Employer = data
	}
	c.Status = ComputeStatus(c.Student, c.Employer)
}

// Token returns the access token of role.
func (c *Contract) Token(role Role) string {
	switch role {
	case RoleStudent:
		return c.Tokens.Student
	case RoleEmployer:
		return c.Tokens.Employer
	}
	return ""
}

// RoleForToken returns the role that token grants on this contract.
func (c *Contract) RoleForToken(token string) (Role, bool) {
	switch {
	case token == "":
		return "", false
	case token == c.Tokens.Student:
		return RoleStudent, true
	case token == c.Tokens.Employer:
		return RoleEmployer, true
	}
	return "", false
}

// Clone returns a copy that can be handed out without sharing the struct.
// Submitted objects are replaced on update, never modified, so they are shared.
func (c *Contract) Clone() *Contract {
	cp := *c
	return &cp
}
