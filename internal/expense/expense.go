package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorizedTransition means a manual action was attempted by
	// the wrong role or from the wrong state. The expense is unchanged.
	ErrUnauthorizedTransition = errors.New("transition not permitted for this role and state")

	// ErrConflictingTransition means the expense status changed under a
	// concurrent request; the caller should refresh and retry.
	ErrConflictingTransition = errors.New("expense status changed concurrently")
)

// Status is the approval state of an expense. Transitions only move
// forward: Pending -> ManagerApproved -> AdminApproved, with rejection
// branches off Pending and ManagerApproved. The rejected states and
// AdminApproved are terminal.
type Status int

const (
	StatusPending Status = iota
	StatusManagerApproved
	StatusAdminApproved
	StatusRejectedByManager
	StatusRejectedByAdmin
)

// Terminal reports whether no further transition may leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusAdminApproved, StatusRejectedByManager, StatusRejectedByAdmin:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusManagerApproved:
		return "manager_approved"
	case StatusAdminApproved:
		return "admin_approved"
	case StatusRejectedByManager:
		return "rejected_by_manager"
	case StatusRejectedByAdmin:
		return "rejected_by_admin"
	}
	return "unknown"
}

// MarshalJSON renders the status by name so API responses and stored
// records stay readable.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a status by name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}

	for _, candidate := range []Status{
		StatusPending,
		StatusManagerApproved,
		StatusAdminApproved,
		StatusRejectedByManager,
		StatusRejectedByAdmin,
	} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", name)
}

// Role is a user's position in the approval hierarchy.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// User represents an account that submits or adjudicates expenses
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	Company       string    `json:"company"`
	Team          string    `json:"team"`
	SignaturePath string    `json:"signature_path,omitempty"` // reference signature image in storage
	CreatedAt     time.Time `json:"created_at"`
}

// Expense represents a submitted expense claim with its receipt metadata
// and approval trail
type Expense struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Name                string          `json:"name"`
	Amount              decimal.Decimal `json:"amount"`
	ExpenseDate         time.Time       `json:"expense_date"`
	Category            string          `json:"category,omitempty"`
	ReceiptPath         string          `json:"receipt_path"`
	ReceiptType         string          `json:"receipt_type"`
	Similarity          *float64        `json:"similarity,omitempty"` // 0-100, nil until computed
	Status              Status          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	ManagerApprovedAt   *time.Time      `json:"manager_approved_at,omitempty"`
	AdminApprovedAt     *time.Time      `json:"admin_approved_at,omitempty"`
	ManagerAutoApproved bool            `json:"manager_auto_approved"`
	AdminAutoApproved   bool            `json:"admin_auto_approved"`
}

// ApprovalCondition is the ceiling under which a role's tier auto-approves
// expenses for one team of one company. At most one exists per
// (company, team, role).
type ApprovalCondition struct {
	Company   string          `json:"company"`
	Team      string          `json:"team"`
	Role      Role            `json:"role"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}
