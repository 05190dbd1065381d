package receipt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/width"
)

// WarningKind classifies an advisory validation finding
type WarningKind string

const (
	WarningInvalidInput      WarningKind = "invalid_input"
	WarningInvalidDateFormat WarningKind = "invalid_date_format"
	WarningDateBeforeCutoff  WarningKind = "date_before_cutoff"
	WarningNonNumericFare    WarningKind = "non_numeric_fare"
	WarningHighFareAmount    WarningKind = "high_fare_amount"
)

const (
	// paidAtLayout is YYYY-MM-DD HH:MM on a 24-hour clock
	paidAtLayout = "2006-01-02 15:04"

	DefaultCutoffYear  = 2025
	DefaultFareCeiling = 100_000
)

// Warning is a plausibility finding. It never blocks a record.
type Warning struct {
	Kind  WarningKind `json:"kind"`
	Field string      `json:"field,omitempty"`
	Value string      `json:"value,omitempty"`
}

// Message renders the warning for a log line
func (w Warning) Message() string {
	switch w.Kind {
	case WarningInvalidInput:
		return "Invalid or empty data provided for validation"
	case WarningInvalidDateFormat:
		return "Invalid date format: " + w.Value
	case WarningDateBeforeCutoff:
		return "Date is before cutoff: " + w.Value
	case WarningNonNumericFare:
		return "Non-numeric fare value: " + w.Value
	case WarningHighFareAmount:
		return "High fare amount detected: " + w.Value + " KRW"
	}
	return string(w.Kind) + ": " + w.Value
}

// Validator applies the business rules to extracted records. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	Roster      Roster
	CutoffYear  int
	FareCeiling int64

	printer *message.Printer
}

// NewValidator creates a Validator with the default cutoff year and fare ceiling
func NewValidator(roster Roster) *Validator {
	return &Validator{
		Roster:      roster,
		CutoffYear:  DefaultCutoffYear,
		FareCeiling: DefaultFareCeiling,
		printer:     message.NewPrinter(language.English),
	}
}

// Validate reconciles the name and checks the date and fare of a record. The
// input is never modified. A nil or empty record yields an empty record and an
// invalid_input warning.
func (v *Validator) Validate(record Record) (Record, []Warning) {
	if len(record) == 0 {
		return Record{}, []Warning{{Kind: WarningInvalidInput}}
	}

	validated := record.Clone()
	var warnings []Warning

	if name, ok := validated[FieldName]; ok {
		validated[FieldName] = v.ReconcileName(name)
	}
	if paidAt, ok := validated[FieldPaidAt]; ok {
		warnings = append(warnings, v.CheckDate(paidAt)...)
	}
	if fare, ok := validated[FieldFare]; ok {
		warnings = append(warnings, v.CheckFare(fare)...)
	}

	return validated, warnings
}

// ReconcileName maps a noisy extracted name onto the roster. An exact entry is
// kept; otherwise the first member (in roster order) equal to, containing, or
// contained in the trimmed name wins. Non-strings, empty strings and names
// with no match come back unchanged.
func (v *Validator) ReconcileName(name any) any {
	s, ok := name.(string)
	if !ok || s == "" {
		return name
	}
	if v.Roster.Contains(s) {
		return s
	}

	trimmed := strings.TrimSpace(s)
	for _, member := range v.Roster {
		m := strings.TrimSpace(member)
		if trimmed == m || strings.Contains(m, trimmed) || strings.Contains(trimmed, m) {
			return member
		}
	}
	return s
}

// CheckDate warns when paid_at is not YYYY-MM-DD HH:MM or falls before the cutoff year
func (v *Validator) CheckDate(paidAt any) []Warning {
	s, ok := paidAt.(string)
	if !ok || s == "" {
		return nil
	}

	trimmed := strings.TrimSpace(s)
	t, err := time.Parse(paidAtLayout, trimmed)
	// time.Parse accepts a one-digit hour
	if err != nil || len(trimmed) != len(paidAtLayout) {
		return []Warning{{Kind: WarningInvalidDateFormat, Field: FieldPaidAt, Value: s}}
	}
	if t.Year() < v.CutoffYear {
		return []Warning{{Kind: WarningDateBeforeCutoff, Field: FieldPaidAt, Value: s}}
	}
	return nil
}

// CheckFare warns when the fare is not a number or exceeds the ceiling. Text
// fares are read by keeping only their digits, so "150,000원" is 150000.
func (v *Validator) CheckFare(fare any) []Warning {
	if fare == nil {
		return nil
	}

	nonNumeric := []Warning{{Kind: WarningNonNumericFare, Field: FieldFare, Value: fmt.Sprint(fare)}}

	var amount int64
	switch f := fare.(type) {
	case string:
		digits := keepDigits(f)
		if digits == "" {
			return nonNumeric
		}
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			// More digits than an int64 holds is still far above any ceiling
			return []Warning{{Kind: WarningHighFareAmount, Field: FieldFare, Value: groupThousands(digits)}}
		}
		amount = n
	case json.Number:
		if n, err := f.Int64(); err == nil {
			amount = n
		} else if x, err := f.Float64(); err == nil && isFinite(x) {
			amount = truncate(x)
		} else {
			return nonNumeric
		}
	case int:
		amount = int64(f)
	case int32:
		amount = int64(f)
	case int64:
		amount = f
	case uint:
		amount = clampUint(uint64(f))
	case uint32:
		amount = int64(f)
	case uint64:
		amount = clampUint(f)
	case float32:
		if !isFinite(float64(f)) {
			return nonNumeric
		}
		amount = truncate(float64(f))
	case float64:
		if !isFinite(f) {
			return nonNumeric
		}
		amount = truncate(f)
	default:
		return nonNumeric
	}

	if amount > v.FareCeiling {
		return []Warning{{Kind: WarningHighFareAmount, Field: FieldFare, Value: v.formatAmount(amount)}}
	}
	return nil
}

func (v *Validator) formatAmount(amount int64) string {
	p := v.printer
	if p == nil {
		p = message.NewPrinter(language.English)
	}
	return p.Sprintf("%d", amount)
}

// keepDigits folds full-width characters (common in OCR of Korean text) to
// ASCII and keeps only the digits
func keepDigits(s string) string {
	var b strings.Builder
	for _, r := range width.Fold.String(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// groupThousands inserts commas into a string of ASCII digits
func groupThousands(digits string) string {
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0"
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// truncate drops the fractional part, saturating at the int64 range
func truncate(f float64) int64 {
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func clampUint(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u)
}
