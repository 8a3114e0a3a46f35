package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expensense/expensense/internal/extract"
	"github.com/expensense/expensense/internal/signature"
)

// isInsufficientSignal reports whether scoring failed only because the
// receipt had no measurable signature region; that stores a zero score
// instead of rejecting the submission.
func isInsufficientSignal(err error) bool {
	return errors.Is(err, signature.ErrInsufficientSignal)
}

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Scorer computes the signature similarity between a receipt image and a
// reference signature image.
type Scorer interface {
	Score(receipt, reference []byte) (float64, error)
}

// ScorerFunc adapts a plain function to the Scorer interface.
type ScorerFunc func(receipt, reference []byte) (float64, error)

func (f ScorerFunc) Score(receipt, reference []byte) (float64, error) {
	return f(receipt, reference)
}

// defaultIDGenerator issues random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles expense submission, recognition and adjudication
type Service struct {
	db          DB
	storage     Storage
	extractor   extract.Extractor
	scorer      Scorer
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, storage Storage, extractor extract.Extractor, scorer Scorer) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		scorer:      scorer,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractor extract.Extractor, scorer Scorer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		storage:     storage,
		extractor:   extractor,
		scorer:      scorer,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`).ReplaceAllString(base, "")
	base = regexp.MustCompile(`\s+`).ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// SubmitRequest carries everything needed to file an expense claim.
type SubmitRequest struct {
	UserID      string
	Name        string
	Amount      decimal.Decimal
	ExpenseDate time.Time
	Category    string
	Filename    string
	ReceiptData []byte
	ContentType string
}

// SubmitExpense files a new claim: the receipt is normalized and stored,
// the signature similarity is computed synchronously against the owner's
// reference signature, the expense is persisted as Pending, and the
// automatic evaluation cascade runs before the call returns.
func (s *Service) SubmitExpense(req SubmitRequest) (*Expense, error) {
	owner, err := s.db.GetUser(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("getting submitter: %w", err)
	}

	normalized, contentType, err := extract.NormalizeImage(req.ReceiptData, req.ContentType)
	if err != nil {
		return nil, fmt.Errorf("normalizing receipt: %w", err)
	}

	// Score before anything is persisted; an unreadable receipt rejects
	// the whole submission rather than silently skipping the check.
	var similarity *float64
	if owner.SignaturePath != "" {
		reference, err := s.storage.Get(owner.SignaturePath)
		if err != nil {
			return nil, fmt.Errorf("getting reference signature: %w", err)
		}

		score, err := s.scorer.Score(normalized, reference)
		if err != nil && !isInsufficientSignal(err) {
			return nil, fmt.Errorf("scoring signature: %w", err)
		}
		if err != nil {
			slog.Info("No measurable signature region on receipt", "user_id", owner.ID)
		}
		similarity = &score
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(req.Filename)), normalized)
	if err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}

	e := &Expense{
		ID:          id,
		UserID:      owner.ID,
		Name:        req.Name,
		Amount:      req.Amount,
		ExpenseDate: req.ExpenseDate,
		Category:    req.Category,
		ReceiptPath: savedPath,
		ReceiptType: contentType,
		Similarity:  similarity,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.SaveExpense(e); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving expense: %w", err)
	}

	evaluated, err := s.Evaluate(e.ID)
	if err != nil {
		return nil, fmt.Errorf("evaluating expense: %w", err)
	}
	return evaluated, nil
}

// ScanReceipt runs the field extractor so a claim form can be pre-filled
// from a receipt image.
func (s *Service) ScanReceipt(ctx context.Context, data []byte, contentType string) (*extract.Fields, error) {
	fields, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("extracting receipt fields: %w", err)
	}
	return fields, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(id string) (*Expense, error) {
	e, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns all expenses
func (s *Service) ListExpenses() ([]*Expense, error) {
	expenses, err := s.db.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// GetReceiptFile retrieves the stored receipt image for an expense
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	e, err := s.db.GetExpense(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense: %w", err)
	}

	data, err := s.storage.Get(e.ReceiptPath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, e.ReceiptType, nil
}

// CreateUser registers a user record
func (s *Service) CreateUser(name string, role Role, company, team string) (*User, error) {
	switch role {
	case RoleEmployee, RoleManager, RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	u := &User{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		Role:      role,
		Company:   company,
		Team:      team,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.SaveUser(u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID
func (s *Service) GetUser(id string) (*User, error) {
	u, err := s.db.GetUser(id)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users
func (s *Service) ListUsers() ([]*User, error) {
	users, err := s.db.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// SetSignature stores a user's reference signature image
func (s *Service) SetSignature(userID, filename string, data []byte, contentType string) (*User, error) {
	u, err := s.db.GetUser(userID)
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	normalized, _, err := extract.NormalizeImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("normalizing signature: %w", err)
	}

	path, err := s.storage.Save(fmt.Sprintf("%s_signature_%s", u.ID, sanitizeFilename(filename)), normalized)
	if err != nil {
		return nil, fmt.Errorf("saving signature: %w", err)
	}

	u.SignaturePath = path
	if err := s.db.SaveUser(u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return u, nil
}

// SetCondition creates or replaces the approval condition for a company,
// team and role.
func (s *Service) SetCondition(company, team string, role Role, maxAmount decimal.Decimal) (*ApprovalCondition, error) {
	if role != RoleManager && role != RoleAdmin {
		return nil, fmt.Errorf("approval conditions apply to managers and admins, got %q", role)
	}

	c := &ApprovalCondition{
		Company:   company,
		Team:      team,
		Role:      role,
		MaxAmount: maxAmount,
	}
	if err := s.db.SaveCondition(c); err != nil {
		return nil, fmt.Errorf("saving condition: %w", err)
	}
	return c, nil
}

// ListConditions returns all approval conditions
func (s *Service) ListConditions() ([]*ApprovalCondition, error) {
	conditions, err := s.db.ListConditions()
	if err != nil {
		return nil, fmt.Errorf("listing conditions: %w", err)
	}
	return conditions, nil
}
