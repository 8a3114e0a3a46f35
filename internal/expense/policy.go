package expense

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// autoApproveSimilarity is the signature score an expense must exceed
// before either tier auto-approves it.
const autoApproveSimilarity = 80

// nextAutoTransition decides whether the policy allows an automatic hop
// from the expense's current status, given the tier conditions on file.
// A nil condition disables its tier; the expense then waits for a manual
// decision.
func nextAutoTransition(e *Expense, manager, admin *ApprovalCondition) (Status, bool) {
	if e.Similarity == nil || *e.Similarity <= autoApproveSimilarity {
		return 0, false
	}

	switch e.Status {
	case StatusPending:
		if manager != nil && e.Amount.LessThanOrEqual(manager.MaxAmount) {
			return StatusManagerApproved, true
		}
	case StatusManagerApproved:
		if admin != nil && e.Amount.LessThanOrEqual(admin.MaxAmount) {
			return StatusAdminApproved, true
		}
	}
	return 0, false
}

// applyTransition mutates an expense into the target status, stamping the
// tier's approval time and recording whether the hop was automatic.
func applyTransition(e *Expense, to Status, auto bool, now time.Time) {
	e.Status = to
	e.UpdatedAt = now
	switch to {
	case StatusManagerApproved:
		e.ManagerApprovedAt = &now
		e.ManagerAutoApproved = auto
	case StatusAdminApproved:
		e.AdminApprovedAt = &now
		e.AdminAutoApproved = auto
	case StatusRejectedByManager:
		e.ManagerAutoApproved = false
	case StatusRejectedByAdmin:
		e.AdminAutoApproved = false
	}
}

// Evaluate is the hook run after every persisted change to an expense. It
// applies the automatic transition function repeatedly, persisting each
// hop with a compare-and-set, until no transition applies or a terminal
// status is reached. The transition graph only moves forward, so the loop
// is bounded at two hops and can never revisit a status.
func (s *Service) Evaluate(expenseID string) (*Expense, error) {
	e, err := s.db.GetExpense(expenseID)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}

	owner, err := s.db.GetUser(e.UserID)
	if err != nil {
		return nil, fmt.Errorf("getting expense owner: %w", err)
	}

	manager, err := s.db.GetCondition(owner.Company, owner.Team, RoleManager)
	if err != nil {
		return nil, fmt.Errorf("looking up manager condition: %w", err)
	}
	admin, err := s.db.GetCondition(owner.Company, owner.Team, RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("looking up admin condition: %w", err)
	}

	for !e.Status.Terminal() {
		to, ok := nextAutoTransition(e, manager, admin)
		if !ok {
			break
		}

		now := s.timeSource.Now()
		updated, err := s.db.UpdateExpenseStatus(e.ID, e.Status, func(x *Expense) {
			applyTransition(x, to, true, now)
		})
		if err != nil {
			return nil, fmt.Errorf("persisting automatic transition: %w", err)
		}

		slog.Info("Expense auto-approved",
			"expense_id", e.ID,
			"from", e.Status.String(),
			"to", updated.Status.String(),
		)
		e = updated
	}

	return e, nil
}

// Approve applies a manual approval by the given actor. Managers approve
// pending expenses; admins approve manager-approved ones. Thresholds are
// not consulted: the human decision overrides them.
func (s *Service) Approve(expenseID, actorID string) (*Expense, error) {
	return s.manualTransition(expenseID, actorID, true)
}

// Deny applies a manual rejection by the given actor, under the same role
// and state gating as Approve. Rejection is terminal.
func (s *Service) Deny(expenseID, actorID string) (*Expense, error) {
	return s.manualTransition(expenseID, actorID, false)
}

func (s *Service) manualTransition(expenseID, actorID string, approve bool) (*Expense, error) {
	actor, err := s.db.GetUser(actorID)
	if err != nil {
		return nil, fmt.Errorf("getting actor: %w", err)
	}

	e, err := s.db.GetExpense(expenseID)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}

	var to Status
	switch {
	case actor.Role == RoleManager && e.Status == StatusPending:
		to = StatusManagerApproved
		if !approve {
			to = StatusRejectedByManager
		}
	case actor.Role == RoleAdmin && e.Status == StatusManagerApproved:
		to = StatusAdminApproved
		if !approve {
			to = StatusRejectedByAdmin
		}
	default:
		return nil, fmt.Errorf("%s acting on %s expense: %w", actor.Role, e.Status, ErrUnauthorizedTransition)
	}

	now := s.timeSource.Now()
	updated, err := s.db.UpdateExpenseStatus(e.ID, e.Status, func(x *Expense) {
		applyTransition(x, to, false, now)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting manual transition: %w", err)
	}

	slog.Info("Expense manually adjudicated",
		"expense_id", expenseID,
		"actor_id", actorID,
		"to", updated.Status.String(),
	)

	// A manual manager approval may put the expense within the admin
	// tier's automatic reach.
	if updated.Status == StatusManagerApproved {
		evaluated, err := s.Evaluate(updated.ID)
		if err != nil {
			if errors.Is(err, ErrConflictingTransition) {
				return updated, nil
			}
			return nil, err
		}
		return evaluated, nil
	}

	return updated, nil
}
