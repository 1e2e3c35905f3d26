package coretools

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var explicitLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"Jan 2 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	relativePattern = regexp.MustCompile(`^in (\d+) (minute|minutes|hour|hours|day|days|week|weeks)$`)
	clockPattern    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// ResolveDatetime turns a natural language phrase into a concrete timestamp
// relative to now. Supported forms: explicit dates, "today", "tomorrow",
// "yesterday", weekday names ("next friday" means the one after the coming
// one), "in N hours" style offsets, and an optional trailing "at 9am" clause.
func ResolveDatetime(text string, now time.Time) (time.Time, error) {
	phrase := strings.ToLower(strings.TrimSpace(text))
	if phrase == "" {
		return time.Time{}, fmt.Errorf("datetime text is required")
	}

	for _, layout := range explicitLayouts {
		if resolved, err := time.ParseInLocation(layout, strings.TrimSpace(text), now.Location()); err == nil {
			return resolved, nil
		}
	}

	phrase, clock := splitClock(phrase)

	if m := relativePattern.FindStringSubmatch(phrase); m != nil {
		amount, _ := strconv.Atoi(m[1])
		switch strings.TrimSuffix(m[2], "s") {
		case "minute":
			return now.Add(time.Duration(amount) * time.Minute), nil
		case "hour":
			return now.Add(time.Duration(amount) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, amount), nil
		case "week":
			return now.AddDate(0, 0, amount*7), nil
		}
	}

	var day time.Time
	switch phrase {
	case "now":
		return now, nil
	case "today":
		day = now
	case "tomorrow":
		day = now.AddDate(0, 0, 1)
	case "yesterday":
		day = now.AddDate(0, 0, -1)
	default:
		next := strings.HasPrefix(phrase, "next ")
		name := strings.TrimPrefix(phrase, "next ")
		weekday, ok := weekdays[name]
		if !ok {
			return time.Time{}, fmt.Errorf("could not resolve datetime %q", text)
		}
		day = upcomingWeekday(now, weekday)
		if next {
			day = day.AddDate(0, 0, 7)
		}
	}

	return applyClock(day, clock, now)
}

// splitClock separates a trailing "at <time>" clause from the day phrase
func splitClock(phrase string) (string, string) {
	if idx := strings.LastIndex(phrase, " at "); idx >= 0 {
		return strings.TrimSpace(phrase[:idx]), strings.TrimSpace(phrase[idx+4:])
	}
	return phrase, ""
}

// upcomingWeekday returns the next occurrence of the weekday strictly after
// today.
func upcomingWeekday(now time.Time, weekday time.Weekday) time.Time {
	delta := (int(weekday) - int(now.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return now.AddDate(0, 0, delta)
}

// applyClock sets the time of day on the resolved date. Without a clock
// clause the date resolves to local midnight.
func applyClock(day time.Time, clock string, now time.Time) (time.Time, error) {
	if clock == "" {
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, now.Location()), nil
	}

	m := clockPattern.FindStringSubmatch(clock)
	if m == nil {
		return time.Time{}, fmt.Errorf("could not resolve time of day %q", clock)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("could not resolve time of day %q", clock)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), nil
}
