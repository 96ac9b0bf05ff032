package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifier prefixes per entity.
const (
	PrefixMovement   = "MVT"
	PrefixSnapshot   = "INV"
	PrefixValidation = "VAL"
	PrefixLedger     = "GL"
	PrefixCount      = "CNT"
	PrefixSettlement = "STL"
)

const idWidth = 6

// FormatID renders a sequence value as PREFIX-000042.
func FormatID(prefix string, n int64) string {
	return fmt.Sprintf("%s-%0*d", prefix, idWidth, n)
}

// ParseID returns the numeric part of an id produced by FormatID.
func ParseID(prefix, id string) (int64, error) {
	raw, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return 0, fmt.Errorf("%w: id %q lacks prefix %s", ErrInvalidInput, id, prefix)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: id %q is not sequential", ErrInvalidInput, id)
	}
	return n, nil
}
