package temporal

import (
	"fmt"
	"time"

	"github.com/akosyrev/chronicle/internal/domain"
)

const dateLayout = "2006-01-02"

// ParseAsOf accepts either a full RFC 3339 timestamp or a bare calendar date.
// A bare date is read as end-of-day UTC so "as of 2025-06-01" includes every
// change made during that day.
func ParseAsOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", domain.ErrInvalidRange)
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is neither an RFC 3339 timestamp nor a YYYY-MM-DD date", domain.ErrInvalidRange, raw)
	}
	return endOfDay(day), nil
}

// ParseDateRange reads two calendar dates as an inclusive window: start-of-day
// for the lower bound, end-of-day for the upper.
func ParseDateRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	if fromRaw == "" || toRaw == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: both from and to dates are required", domain.ErrInvalidRange)
	}
	from, err := time.ParseInLocation(dateLayout, fromRaw, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid from date %q", domain.ErrInvalidRange, fromRaw)
	}
	to, err := time.ParseInLocation(dateLayout, toRaw, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: invalid to date %q", domain.ErrInvalidRange, toRaw)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from date %s is after to date %s", domain.ErrInvalidRange, fromRaw, toRaw)
	}
	return from, endOfDay(to), nil
}

func endOfDay(day time.Time) time.Time {
	return day.Add(24*time.Hour - time.Nanosecond)
}
