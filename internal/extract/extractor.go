package extract

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrCredentialMissing means no recognition-service credential was
	// supplied; recognizers refuse to start without one.
	ErrCredentialMissing = errors.New("recognition credential missing")

	// ErrExtractionFailed means every recognition attempt was exhausted
	// without a successful parse.
	ErrExtractionFailed = errors.New("partial parse")
)

// Date is a calendar date as read off a receipt. The zero value means no
// date was recognized; callers must check Fields.DateFound rather than
// interpret it.
type Date struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Fields holds the values recognized on a receipt. A missed amount or date
// is reported through the Found flags, never as a silent zero.
type Fields struct {
	Amount      decimal.Decimal `json:"amount"`
	AmountFound bool            `json:"amount_found"`
	Date        Date            `json:"date"`
	DateFound   bool            `json:"date_found"`
}

// Extractor defines the interface for receipt field recognition
type Extractor interface {
	// Extract reads a receipt image and recognizes its amount and date
	Extract(ctx context.Context, imageData []byte, contentType string) (*Fields, error)
	// Close closes the extractor and releases resources
	Close() error
}
