package expense

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expenseBucketName   = "expenses"
	userBucketName      = "users"
	conditionBucketName = "conditions"
)

// DB defines the interface for database operations
type DB interface {
	// SaveExpense saves an expense to the database
	SaveExpense(e *Expense) error

	// GetExpense retrieves an expense by ID
	GetExpense(id string) (*Expense, error)

	// ListExpenses returns all expenses
	ListExpenses() ([]*Expense, error)

	// UpdateExpenseStatus applies a status mutation atomically, keyed on
	// the expected prior status. When the stored status no longer equals
	// from it returns ErrConflictingTransition and leaves the record
	// untouched.
	UpdateExpenseStatus(id string, from Status, apply func(*Expense)) (*Expense, error)

	// SaveUser saves a user to the database
	SaveUser(u *User) error

	// GetUser retrieves a user by ID
	GetUser(id string) (*User, error)

	// ListUsers returns all users
	ListUsers() ([]*User, error)

	// SaveCondition saves an approval condition, replacing any existing
	// one for the same (company, team, role)
	SaveCondition(c *ApprovalCondition) error

	// GetCondition retrieves the approval condition for a company, team
	// and role. Absence is not an error: it returns (nil, nil).
	GetCondition(company, team string, role Role) (*ApprovalCondition, error)

	// ListConditions returns all approval conditions
	ListConditions() ([]*ApprovalCondition, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{expenseBucketName, userBucketName, conditionBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// conditionKey builds the (company, team, role) lookup key.
func conditionKey(company, team string, role Role) []byte {
	return []byte(strings.Join([]string{company, team, string(role)}, "|"))
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(e *Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(e.ID), data)
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(id string) (*Expense, error) {
	var e *Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expense %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var e Expense
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// UpdateExpenseStatus applies a status mutation inside a single write
// transaction, compare-and-set on the expected prior status.
func (b *BoltDB) UpdateExpenseStatus(id string, from Status, apply func(*Expense)) (*Expense, error) {
	var updated *Expense
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("expense %s: %w", id, ErrNotFound)
		}

		var e Expense
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		if e.Status != from {
			return fmt.Errorf("expense %s is %s, expected %s: %w", id, e.Status, from, ErrConflictingTransition)
		}

		apply(&e)

		out, err := json.Marshal(&e)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		if err := bucket.Put([]byte(id), out); err != nil {
			return err
		}
		updated = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SaveUser saves a user to the database
func (b *BoltDB) SaveUser(u *User) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucketName))
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshaling user: %w", err)
		}
		return bucket.Put([]byte(u.ID), data)
	})
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(id string) (*User, error) {
	var u *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns all users
func (b *BoltDB) ListUsers() ([]*User, error) {
	users := make([]*User, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(userBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var u User
			if err := json.Unmarshal(v, &u); err != nil {
				return fmt.Errorf("unmarshaling user: %w", err)
			}
			users = append(users, &u)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// SaveCondition saves an approval condition under its composite key
func (b *BoltDB) SaveCondition(c *ApprovalCondition) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conditionBucketName))
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshaling condition: %w", err)
		}
		return bucket.Put(conditionKey(c.Company, c.Team, c.Role), data)
	})
}

// GetCondition retrieves the approval condition for a company, team and
// role, or (nil, nil) when none is configured.
func (b *BoltDB) GetCondition(company, team string, role Role) (*ApprovalCondition, error) {
	var c *ApprovalCondition
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conditionBucketName))
		data := bucket.Get(conditionKey(company, team, role))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConditions returns all approval conditions
func (b *BoltDB) ListConditions() ([]*ApprovalCondition, error) {
	conditions := make([]*ApprovalCondition, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(conditionBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var c ApprovalCondition
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling condition: %w", err)
			}
			conditions = append(conditions, &c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return conditions, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
