package reconciliation

import "github.com/shopspring/decimal"

// Severity grades a count variance relative to the book quantity.
type Severity string

const (
	SeverityOK        Severity = "OK"
	SeverityMinor     Severity = "MINOR"
	SeverityImportant Severity = "IMPORTANT"
	SeverityCritical  Severity = "CRITICAL"
)

// Percentage limits, inclusive.
const (
	minorLimit     = 5
	importantLimit = 10
)

var hundred = decimal.NewFromInt(100)

// Classify returns the severity and the absolute variance percentage.
// Any variance against a zero book quantity is critical.
func Classify(variance, theoretical int64) (Severity, decimal.Decimal) {
	if variance == 0 {
		return SeverityOK, decimal.Zero
	}
	if theoretical == 0 {
		return SeverityCritical, hundred
	}
	abs := variance
	if abs < 0 {
		abs = -abs
	}
	pct := decimal.NewFromInt(abs).Mul(hundred).DivRound(decimal.NewFromInt(theoretical), 2)
	// Compare abs/theoretical against the limits exactly; pct is only reported.
	scaled := abs * 100
	switch {
	case scaled <= minorLimit*theoretical:
		return SeverityMinor, pct
	case scaled <= importantLimit*theoretical:
		return SeverityImportant, pct
	default:
		return SeverityCritical, pct
	}
}
