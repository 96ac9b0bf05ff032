package shared

import "time"

// YearBounds returns the first instant of year and of the following year, UTC.
func YearBounds(year int) (time.Time, time.Time) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(1, 0, 0)
}

// ValidYear reports whether year is plausible for settlements.
func ValidYear(year int) bool {
	return year >= 1900 && year <= 9999
}
