package shared

const (
	// DefaultLimit applies when listings receive no limit.
	DefaultLimit = 200
	// MaxLimit caps listing sizes.
	MaxLimit = 1000
)

// ClampLimit normalises list limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
