package expense

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

// seedExpense stores a pending expense for the given owner.
func seedExpense(db *mockDB, id, userID string, amount string, similarity float64, status Status) *Expense {
	sim := similarity
	e := &Expense{
		ID:          id,
		UserID:      userID,
		Name:        "expense " + id,
		Amount:      decimal.RequireFromString(amount),
		ExpenseDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		ReceiptPath: id + "_receipt.png",
		Similarity:  &sim,
		Status:      status,
		CreatedAt:   time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	db.expenses[id] = e
	return e
}

// seedCondition stores an approval ceiling for the acme/platform team.
func seedCondition(db *mockDB, role Role, maxAmount string) {
	db.conditions[string(conditionKey("acme", "platform", role))] = &ApprovalCondition{
		Company:   "acme",
		Team:      "platform",
		Role:      role,
		MaxAmount: decimal.RequireFromString(maxAmount),
	}
}

var _ = Describe("Policy", func() {
	var (
		db      *mockDB
		storage *mockStorage
		timeSrc *mockTimeSource
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		timeSrc = &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, storage, newMockExtractor(), &mockScorer{score: 85},
			&mockIDGenerator{id: "id-1"}, timeSrc)

		seedUser(db, storage, "emp-1", RoleEmployee)
		seedUser(db, storage, "mgr-1", RoleManager)
		seedUser(db, storage, "adm-1", RoleAdmin)
	})

	Describe("Evaluate", func() {
		var (
			e   *Expense
			err error
		)

		JustBeforeEach(func() {
			e, err = service.Evaluate("exp-1")
		})

		When("the amount is under the manager ceiling and similarity is high", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "100.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 85, StatusPending)
			})

			It("auto-approves the manager tier", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusManagerApproved))
			})

			It("marks the transition as automatic and stamps it", func() {
				Expect(e.ManagerAutoApproved).To(BeTrue())
				Expect(e.ManagerApprovedAt).NotTo(BeNil())
				Expect(*e.ManagerApprovedAt).To(Equal(timeSrc.now))
			})

			It("does not touch the admin tier", func() {
				Expect(e.AdminAutoApproved).To(BeFalse())
				Expect(e.AdminApprovedAt).To(BeNil())
			})
		})

		When("similarity does not clear the bar", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "100.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 70, StatusPending)
			})

			It("leaves the expense pending", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusPending))
			})
		})

		When("similarity equals the bar exactly", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "100.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 80, StatusPending)
			})

			It("leaves the expense pending", func() {
				Expect(e.Status).To(Equal(StatusPending))
			})
		})

		When("similarity was never computed", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "100.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 0, StatusPending)
				db.expenses["exp-1"].Similarity = nil
			})

			It("leaves the expense pending", func() {
				Expect(e.Status).To(Equal(StatusPending))
			})
		})

		When("both tier ceilings cover the amount", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "100.00")
				seedCondition(db, RoleAdmin, "100.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 85, StatusPending)
			})

			It("cascades to the terminal approval in one evaluation", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusAdminApproved))
				Expect(e.ManagerAutoApproved).To(BeTrue())
				Expect(e.AdminAutoApproved).To(BeTrue())
			})
		})

		When("the admin ceiling is below the amount", func() {
			BeforeEach(func() {
				seedCondition(db, RoleAdmin, "40.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 85, StatusManagerApproved)
			})

			It("stays manager-approved awaiting a manual admin decision", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusManagerApproved))
			})
		})

		When("no approval condition exists for the team", func() {
			BeforeEach(func() {
				seedExpense(db, "exp-1", "emp-1", "50.00", 95, StatusPending)
			})

			It("disables auto-approval entirely", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusPending))
			})
		})

		When("the expense is already terminal", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "100.00")
				seedCondition(db, RoleAdmin, "100.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 95, StatusRejectedByManager)
			})

			It("changes nothing", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusRejectedByManager))
			})
		})

		When("the amount equals the ceiling exactly", func() {
			BeforeEach(func() {
				seedCondition(db, RoleManager, "50.00")
				seedExpense(db, "exp-1", "emp-1", "50.00", 85, StatusPending)
			})

			It("auto-approves at the boundary", func() {
				Expect(e.Status).To(Equal(StatusManagerApproved))
			})
		})
	})

	Describe("Approve", func() {
		var (
			actorID string
			e       *Expense
			err     error
		)

		BeforeEach(func() {
			seedExpense(db, "exp-1", "emp-1", "500.00", 70, StatusPending)
		})

		JustBeforeEach(func() {
			e, err = service.Approve("exp-1", actorID)
		})

		When("a manager approves a pending expense", func() {
			BeforeEach(func() {
				actorID = "mgr-1"
			})

			It("transitions to manager-approved", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusManagerApproved))
			})

			It("records the transition as manual", func() {
				Expect(e.ManagerAutoApproved).To(BeFalse())
				Expect(e.ManagerApprovedAt).NotTo(BeNil())
			})

			It("ignores thresholds entirely", func() {
				// No condition covers 500.00, the human decision stands.
				Expect(e.Status).To(Equal(StatusManagerApproved))
			})
		})

		When("a manual manager approval puts the expense in the admin tier's reach", func() {
			BeforeEach(func() {
				actorID = "mgr-1"
				seedCondition(db, RoleAdmin, "1000.00")
				sim := 90.0
				db.expenses["exp-1"].Similarity = &sim
			})

			It("runs the automatic cascade afterwards", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusAdminApproved))
				Expect(e.ManagerAutoApproved).To(BeFalse())
				Expect(e.AdminAutoApproved).To(BeTrue())
			})
		})

		When("an admin approves a manager-approved expense", func() {
			BeforeEach(func() {
				actorID = "adm-1"
				db.expenses["exp-1"].Status = StatusManagerApproved
			})

			It("transitions to the terminal approval", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusAdminApproved))
				Expect(e.AdminAutoApproved).To(BeFalse())
			})
		})

		When("an admin tries to approve a pending expense", func() {
			BeforeEach(func() {
				actorID = "adm-1"
			})

			It("returns ErrUnauthorizedTransition", func() {
				Expect(err).To(MatchError(ErrUnauthorizedTransition))
				Expect(db.expenses["exp-1"].Status).To(Equal(StatusPending))
			})
		})

		When("an employee tries to approve", func() {
			BeforeEach(func() {
				actorID = "emp-1"
			})

			It("returns ErrUnauthorizedTransition", func() {
				Expect(err).To(MatchError(ErrUnauthorizedTransition))
			})
		})

		When("the expense is already terminal", func() {
			BeforeEach(func() {
				actorID = "mgr-1"
				db.expenses["exp-1"].Status = StatusRejectedByManager
			})

			It("returns ErrUnauthorizedTransition", func() {
				Expect(err).To(MatchError(ErrUnauthorizedTransition))
				Expect(db.expenses["exp-1"].Status).To(Equal(StatusRejectedByManager))
			})
		})

		When("a concurrent writer lands between read and write", func() {
			BeforeEach(func() {
				actorID = "mgr-1"
				db.beforeStatusUpdate = func(m *mockDB) {
					m.expenses["exp-1"].Status = StatusManagerApproved
				}
			})

			It("returns ErrConflictingTransition without overwriting", func() {
				Expect(err).To(MatchError(ErrConflictingTransition))
				Expect(db.expenses["exp-1"].Status).To(Equal(StatusManagerApproved))
			})
		})
	})

	Describe("Deny", func() {
		var (
			actorID string
			e       *Expense
			err     error
		)

		BeforeEach(func() {
			seedExpense(db, "exp-1", "emp-1", "50.00", 85, StatusPending)
		})

		JustBeforeEach(func() {
			e, err = service.Deny("exp-1", actorID)
		})

		When("a manager denies a pending expense", func() {
			BeforeEach(func() {
				actorID = "mgr-1"
			})

			It("transitions to the terminal manager rejection", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusRejectedByManager))
				Expect(e.Status.Terminal()).To(BeTrue())
			})
		})

		When("an admin denies a manager-approved expense", func() {
			BeforeEach(func() {
				actorID = "adm-1"
				db.expenses["exp-1"].Status = StatusManagerApproved
			})

			It("transitions to the terminal admin rejection", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(e.Status).To(Equal(StatusRejectedByAdmin))
			})
		})

		When("a manager denies a manager-approved expense", func() {
			BeforeEach(func() {
				actorID = "mgr-1"
				db.expenses["exp-1"].Status = StatusManagerApproved
			})

			It("returns ErrUnauthorizedTransition", func() {
				Expect(err).To(MatchError(ErrUnauthorizedTransition))
			})
		})
	})

	Describe("Status", func() {
		It("marks exactly the rejections and the final approval as terminal", func() {
			Expect(StatusPending.Terminal()).To(BeFalse())
			Expect(StatusManagerApproved.Terminal()).To(BeFalse())
			Expect(StatusAdminApproved.Terminal()).To(BeTrue())
			Expect(StatusRejectedByManager.Terminal()).To(BeTrue())
			Expect(StatusRejectedByAdmin.Terminal()).To(BeTrue())
		})
	})
})
