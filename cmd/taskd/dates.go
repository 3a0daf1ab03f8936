package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/aneuhold/taskd/internal/docstore/schema"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var naturalDates = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts ISO dates ("2026-03-10", "2026-03-10 14:00") and
// natural language ("tomorrow at 9am", "next friday", "in 3 days").
// Date-only values resolve to local midnight.
func parseDate(text string, base time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, text, base.Location()); err == nil {
			return t, nil
		}
	}

	r, err := naturalDates.Parse(text, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", text)
	}
	return r.Time, nil
}

// parseDateFlag parses an optional date flag value.
func parseDateFlag(name, value string, base time.Time) *time.Time {
	if value == "" {
		return nil
	}
	t, err := parseDate(value, base)
	if err != nil {
		fatalf("--%s: %v", name, err)
	}
	return &t
}

// parseEvery parses a frequency such as "day", "2 weeks" or "3d".
func parseEvery(text string) (schema.Frequency, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	switch len(fields) {
	case 1:
		if n, unit, ok := splitCompact(fields[0]); ok {
			return frequency(n, unit)
		}
		return frequency(1, fields[0])
	case 2:
		var n int
		if _, err := fmt.Sscanf(fields[0], "%d", &n); err != nil {
			return schema.Frequency{}, fmt.Errorf("invalid count %q", fields[0])
		}
		return frequency(n, fields[1])
	}
	return schema.Frequency{}, fmt.Errorf("invalid frequency %q (try \"day\", \"2 weeks\" or \"3d\")", text)
}

// splitCompact splits "3d" into 3 and "d".
func splitCompact(s string) (int, string, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return 0, "", false
	}
	var n int
	fmt.Sscanf(s[:i], "%d", &n)
	return n, s[i:], true
}

func frequency(n int, unit string) (schema.Frequency, error) {
	units := map[string]schema.Unit{
		"h": schema.UnitHour, "hour": schema.UnitHour, "hours": schema.UnitHour,
		"d": schema.UnitDay, "day": schema.UnitDay, "days": schema.UnitDay,
		"w": schema.UnitWeek, "week": schema.UnitWeek, "weeks": schema.UnitWeek,
		"m": schema.UnitMonth, "month": schema.UnitMonth, "months": schema.UnitMonth,
		"y": schema.UnitYear, "year": schema.UnitYear, "years": schema.UnitYear,
	}
	u, ok := units[unit]
	if !ok {
		return schema.Frequency{}, fmt.Errorf("unknown unit %q", unit)
	}
	if n <= 0 {
		return schema.Frequency{}, fmt.Errorf("count must be positive")
	}
	return schema.Frequency{EveryX: n, Unit: u}, nil
}

// formatDate renders an optional date for listings.
func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	local := t.Local()
	if local.Hour() == 0 && local.Minute() == 0 {
		return local.Format("Mon Jan 2")
	}
	return local.Format("Mon Jan 2 15:04")
}
