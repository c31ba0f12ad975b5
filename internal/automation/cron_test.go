package automation

import (
	"testing"
	"time"
)

func TestScheduleMatches(t *testing.T) {
	at := time.Date(2026, 2, 11, 8, 30, 0, 0, time.UTC)

	ok, err := ScheduleMatches("*/15 8-10 * * *", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected */15 8-10 * * * to match %v", at)
	}

	ok, err = ScheduleMatches("*/20 8-10 * * *", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected */20 8-10 * * * not to match %v", at)
	}

	if _, err := ScheduleMatches("0 8 * *", at); err == nil {
		t.Fatalf("expected error for malformed schedule")
	}
}

func TestScheduleMatchesDayOfWeekFolding(t *testing.T) {
	sunday := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC) // a Sunday
	ok, err := ScheduleMatches("0 0 * * 7", sunday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected day-of-week 7 to fold to Sunday")
	}
}

func TestFieldMatchesRangeRequiresStartLEEnd(t *testing.T) {
	_, err := ScheduleMatches("0 10-5 * * *", time.Now())
	if err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestFieldMatchesStepMustBePositive(t *testing.T) {
	_, err := ScheduleMatches("*/0 * * * *", time.Now())
	if err == nil {
		t.Fatalf("expected error for zero step")
	}
}
