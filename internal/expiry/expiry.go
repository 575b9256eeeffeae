package expiry

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// MinYears and MaxYears bound card validity.
	MinYears = 1
	MaxYears = 5

	// DateLayout is the wire format for expiration dates.
	DateLayout = "2006-01-02"
)

var defaultLoc atomic.Pointer[time.Location]

// SetDefaultExpiryLocation sets the default time location for expiry calculations (fallback UTC).
// It is safe to call concurrently with the other helpers.
func SetDefaultExpiryLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc.Store(loc)
	}
}

// Location returns the location expiry dates are computed in.
func Location() *time.Location {
	if loc := defaultLoc.Load(); loc != nil {
		return loc
	}
	return time.UTC
}

// Date truncates t to midnight of its calendar day in the expiry location.
func Date(t time.Time) time.Time {
	loc := Location()
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AddYears returns the calendar date that is years after issue.
// Feb 29 rolls forward to Mar 1 in non-leap target years.
func AddYears(issue time.Time, years int) time.Time {
	return Date(issue).AddDate(years, 0, 0)
}

// ValidateYears reports whether years is an allowed validity period.
func ValidateYears(years int) error {
	if years < MinYears || years > MaxYears {
		return fmt.Errorf("validity must be %d..%d years (got %d)", MinYears, MaxYears, years)
	}
	return nil
}

// IsExpired reports whether exp is strictly before the calendar day of at.
func IsExpired(exp, at time.Time) bool {
	return Date(exp).Before(Date(at))
}

// IsActive reports whether exp is strictly after the calendar day of at.
// A card expiring on the day of at is neither expired nor active.
func IsActive(exp, at time.Time) bool {
	return Date(exp).After(Date(at))
}

// YYMM returns the expiry in YYMM form.
func YYMM(exp time.Time) string {
	t := exp.In(Location())
	return fmt.Sprintf("%02d%02d", t.Year()%100, int(t.Month()))
}

// CardFace returns the expiry as MM/YY for card imprint.
func CardFace(exp time.Time) string {
	t := exp.In(Location())
	return fmt.Sprintf("%02d/%02d", int(t.Month()), t.Year()%100)
}

// FormatDate renders exp as YYYY-MM-DD.
func FormatDate(exp time.Time) string {
	return Date(exp).Format(DateLayout)
}

// ParseDate parses YYYY-MM-DD in the expiry location.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("expiration date must be YYYY-MM-DD: %w", err)
	}
	return t, nil
}
