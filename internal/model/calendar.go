package model

import (
	"strconv"
	"strings"
	"time"
)

// CheckMoment reports whether t falls inside the calendar's weekly
// windows: days is a CSV of ISO weekday numbers (1=Monday..7=Sunday),
// start/end are "HH:MM" clocks in the calendar's timezone. Missing
// fields widen the window (all days, whole day, UTC).
func (c Calendar) CheckMoment(t time.Time) bool {
	loc := time.UTC
	if name, ok := c.Attributes.String("timezone"); ok {
		if parsed, err := time.LoadLocation(strings.TrimSpace(name)); err == nil {
			loc = parsed
		}
	}
	local := t.In(loc)

	if days, ok := c.Attributes.String("days"); ok && strings.TrimSpace(days) != "" {
		if !weekdayListed(days, local.Weekday()) {
			return false
		}
	}

	start := clockMinutes(c.Attributes, "start", 0)
	end := clockMinutes(c.Attributes, "end", 24*60)
	minute := local.Hour()*60 + local.Minute()
	if start == end {
		return true
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func weekdayListed(days string, weekday time.Weekday) bool {
	for _, field := range SplitCSV(days) {
		n, err := strconv.Atoi(field)
		if err != nil || n < 1 || n > 7 {
			continue
		}
		iso := time.Weekday(n % 7)
		if iso == weekday {
			return true
		}
	}
	return false
}

func clockMinutes(attrs Attributes, key string, fallback int) int {
	raw, ok := attrs.String(key)
	if !ok {
		return fallback
	}
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return fallback
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return fallback
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return fallback
	}
	return hour*60 + minute
}
