package temporal

import (
	"errors"
	"testing"
	"time"

	"github.com/akosyrev/chronicle/internal/domain"
)

func TestParseAsOfTimestamp(t *testing.T) {
	got, err := ParseAsOf("2025-06-01T10:30:00Z")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	want := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestParseAsOfDateIsEndOfDay(t *testing.T) {
	got, err := ParseAsOf("2025-06-01")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got.Before(time.Date(2025, 6, 1, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("bare date must resolve to end of day, got %s", got)
	}
	if !got.Before(time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("bare date must stay within its day, got %s", got)
	}
}

func TestParseAsOfRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "yesterday", "2025-13-01", "01/06/2025"} {
		if _, err := ParseAsOf(raw); !errors.Is(err, domain.ErrInvalidRange) {
			t.Errorf("ParseAsOf(%q): expected ErrInvalidRange, got %v", raw, err)
		}
	}
}

func TestParseDateRange(t *testing.T) {
	from, to, err := ParseDateRange("2025-06-01", "2025-06-02")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !from.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from must be start of day, got %s", from)
	}
	if !to.After(time.Date(2025, 6, 2, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("to must be end of day, got %s", to)
	}
}

func TestParseDateRangeRejectsInversion(t *testing.T) {
	if _, _, err := ParseDateRange("2025-06-02", "2025-06-01"); !errors.Is(err, domain.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange for inverted range, got %v", err)
	}
}
