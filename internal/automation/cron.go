// Package automation implements the pure cron-grammar matcher and
// front-matter parser described in spec §6/§8. Scheduling a daemon to run
// these automations is explicitly out of scope (§1); this package only
// supplies the testable building blocks a scheduler would use.
package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleMatches reports whether a 5-field cron expression (minute hour
// day-of-month month day-of-week) matches t in t's own location.
func ScheduleMatches(schedule string, t time.Time) (bool, error) {
	fields := strings.Fields(schedule)
	if len(fields) != 5 {
		return false, fmt.Errorf("invalid schedule %q: expected 5 cron fields (minute hour day month weekday)", schedule)
	}

	minute := t.Minute()
	hour := t.Hour()
	day := t.Day()
	month := int(t.Month())
	weekday := int(t.Weekday()) // time.Sunday == 0, matching the cron convention

	checks := []struct {
		expr          string
		value         int
		min, max      int
		isDayOfWeek   bool
	}{
		{fields[0], minute, 0, 59, false},
		{fields[1], hour, 0, 23, false},
		{fields[2], day, 1, 31, false},
		{fields[3], month, 1, 12, false},
		{fields[4], weekday, 0, 6, true},
	}

	for _, c := range checks {
		ok, err := fieldMatches(c.expr, c.value, c.min, c.max, c.isDayOfWeek)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func fieldMatches(expr string, value, min, max int, isDayOfWeek bool) (bool, error) {
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if part == "*" {
			return true, nil
		}

		if step, ok := strings.CutPrefix(part, "*/"); ok {
			n, err := parseCronValue(step, min, max, isDayOfWeek)
			if err != nil {
				return false, err
			}
			if n <= 0 {
				return false, fmt.Errorf("invalid step %q: must be greater than zero", part)
			}
			if (value-min)%n == 0 {
				return true, nil
			}
			continue
		}

		if start, end, ok := strings.Cut(part, "-"); ok {
			startN, err := parseCronValue(start, min, max, isDayOfWeek)
			if err != nil {
				return false, err
			}
			endN, err := parseCronValue(end, min, max, isDayOfWeek)
			if err != nil {
				return false, err
			}
			if startN > endN {
				return false, fmt.Errorf("invalid range %q: start must be <= end", part)
			}
			if value >= startN && value <= endN {
				return true, nil
			}
			continue
		}

		n, err := parseCronValue(part, min, max, isDayOfWeek)
		if err != nil {
			return false, err
		}
		if n == value {
			return true, nil
		}
	}
	return false, nil
}

func parseCronValue(raw string, min, max int, isDayOfWeek bool) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("invalid empty cron value")
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid cron value %q: %w", trimmed, err)
	}

	if isDayOfWeek && n == 7 {
		n = 0
	}

	if n < min || n > max {
		return 0, fmt.Errorf("cron value %q out of range %d..%d", trimmed, min, max)
	}
	return n, nil
}
