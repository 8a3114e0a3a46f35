package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// fieldExtractPrompt asks a vision model for the two fields the claim
// form needs, with explicit nulls so a miss never masquerades as a zero.
const fieldExtractPrompt = `You are analyzing a receipt image. Carefully read all text and extract:

1. **Total Amount**: the final total, grand total, or amount due, usually at the bottom and labeled "TOTAL", "Amount", "Amount Due" or similar. Extract only the numeric value (e.g. 42.75).

2. **Date**: the transaction or invoice date, split into day, month and year numbers.

Return ONLY valid JSON in this exact format:
{
  "amount": 0.00,
  "day": 0,
  "month": 0,
  "year": 0
}

Important:
- The amount must be a number (not a string)
- Use null for any field you cannot find
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

var (
	// "Amount 12.50", "TOTAL 123" and similar, case-insensitive, with up
	// to two decimal digits.
	amountPattern = regexp.MustCompile(`(?i)\b(?:amount|total)\s+(\d+(?:\.\d{1,2})?)\b`)

	// DD/MM/YYYY or DD-MM-YYYY.
	numericDatePattern = regexp.MustCompile(`\b(\d{2})[/-](\d{2})[/-](\d{4})\b`)

	// "1 Jan 2018" / "01 Jan 2018".
	writtenDatePattern = regexp.MustCompile(`\b(\d{1,2})\s+([A-Za-z]{3})\s+(\d{4})\b`)
)

// parseFields pulls the amount and date out of recognized receipt text.
// Either value can be absent; that is reported through the Found flags.
func parseFields(text string) *Fields {
	fields := &Fields{}

	if m := amountPattern.FindStringSubmatch(text); m != nil {
		if amount, err := decimal.NewFromString(m[1]); err == nil {
			fields.Amount = amount
			fields.AmountFound = true
		}
	}

	fields.Date, fields.DateFound = parseDate(text)
	return fields
}

// parseDate tries the numeric date pattern first, then the written-month
// pattern. First pattern with a match wins.
func parseDate(text string) (Date, bool) {
	if m := numericDatePattern.FindStringSubmatch(text); m != nil {
		return Date{
			Day:   atoi(m[1]),
			Month: atoi(m[2]),
			Year:  atoi(m[3]),
		}, true
	}

	if m := writtenDatePattern.FindStringSubmatch(text); m != nil {
		month := strings.ToUpper(m[2][:1]) + strings.ToLower(m[2][1:])
		parsed, err := time.Parse("Jan", month)
		if err == nil {
			return Date{
				Day:   atoi(m[1]),
				Month: int(parsed.Month()),
				Year:  atoi(m[3]),
			}, true
		}
	}

	return Date{}, false
}

// atoi converts a digits-only string already validated by a regexp.
func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// rawFields mirrors the prompted JSON shape; pointers distinguish a
// recognized zero from an absent field.
type rawFields struct {
	Amount *float64 `json:"amount"`
	Day    *int     `json:"day"`
	Month  *int     `json:"month"`
	Year   *int     `json:"year"`
}

// parseFieldsJSON turns a vision model's JSON reply into Fields.
func parseFieldsJSON(text string) (*Fields, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Tolerate stray prose around the object.
	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	text = text[startIdx : endIdx+1]

	var raw rawFields
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	fields := &Fields{}
	if raw.Amount != nil {
		fields.Amount = decimal.NewFromFloat(*raw.Amount).Round(2)
		fields.AmountFound = true
	}
	if raw.Day != nil && raw.Month != nil && raw.Year != nil {
		fields.Date = Date{Day: *raw.Day, Month: *raw.Month, Year: *raw.Year}
		fields.DateFound = true
	}
	return fields, nil
}
