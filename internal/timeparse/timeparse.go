// Package timeparse converts free-text time expressions into absolute
// instants. Parsing is a pure function of the input and the reference time;
// malformed input is a soft failure, never an error.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clock24Pattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	clock12Pattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*(am|pm)$`)
)

// Parse maps expr to an absolute instant relative to now. The grammar rules
// are tried in order; the first match wins:
//
//  1. relative: "in <N> <minutes|hours|days|weeks>"
//  2. clock time: "14:30" or "2:30pm", rolled to tomorrow if already past
//  3. date: "2024-01-15", "01/15/2024" or "15/01/2024", at now's time of day
//  4. natural language: "tomorrow", "next week", "next month"
//
// The second return is false when no rule matches.
func Parse(expr string, now time.Time) (time.Time, bool) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return time.Time{}, false
	}

	if strings.HasPrefix(expr, "in ") {
		if t, ok := parseRelative(strings.TrimPrefix(expr, "in "), now); ok {
			return t, true
		}
	}

	if strings.Contains(expr, ":") {
		if t, ok := parseClock(expr, now); ok {
			return t, true
		}
	}

	if strings.Contains(expr, "-") || strings.Contains(expr, "/") {
		if t, ok := parseDate(expr, now); ok {
			return t, true
		}
	}

	return parseNatural(expr, now)
}

// parseRelative handles "<N> <unit>" after the "in " prefix.
func parseRelative(expr string, now time.Time) (time.Time, bool) {
	fields := strings.Fields(expr)
	if len(fields) < 2 {
		return time.Time{}, false
	}

	amount, err := strconv.Atoi(fields[0])
	if err != nil || amount < 0 {
		return time.Time{}, false
	}

	switch strings.TrimSuffix(fields[1], "s") {
	case "minute":
		return now.Add(time.Duration(amount) * time.Minute), true
	case "hour":
		return now.Add(time.Duration(amount) * time.Hour), true
	case "day":
		return now.AddDate(0, 0, amount), true
	case "week":
		return now.AddDate(0, 0, 7*amount), true
	}
	return time.Time{}, false
}

// parseClock handles "H:MM" (24-hour) and "H:MM am|pm". The result is today
// at that wall-clock time; if that instant is not strictly after now it rolls
// forward exactly one day.
func parseClock(expr string, now time.Time) (time.Time, bool) {
	var hour, minute int

	if m := clock12Pattern.FindStringSubmatch(expr); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour < 1 || hour > 12 || minute > 59 {
			return time.Time{}, false
		}
		if m[3] == "pm" && hour != 12 {
			hour += 12
		} else if m[3] == "am" && hour == 12 {
			hour = 0
		}
	} else if m := clock24Pattern.FindStringSubmatch(expr); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour > 23 || minute > 59 {
			return time.Time{}, false
		}
	} else {
		return time.Time{}, false
	}

	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, true
}

// dateLayouts are tried in order; the first that parses under strict calendar
// validation wins.
var dateLayouts = []string{
	"2006-1-2", // YYYY-MM-DD
	"1/2/2006", // MM/DD/YYYY
	"2/1/2006", // DD/MM/YYYY
}

// parseDate handles calendar dates. Time of day defaults to now's.
func parseDate(expr string, now time.Time) (time.Time, bool) {
	// A trailing time portion is ignored; only the first field is the date.
	datePart := strings.Fields(expr)[0]

	for _, layout := range dateLayouts {
		parsed, err := time.ParseInLocation(layout, datePart, now.Location())
		if err != nil {
			continue
		}
		return time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
			now.Hour(), now.Minute(), 0, 0, now.Location()), true
	}
	return time.Time{}, false
}

// parseNatural handles the exact-match keyword fallbacks. "next month" is
// approximated as 30 days; calendar-month arithmetic is not attempted.
func parseNatural(expr string, now time.Time) (time.Time, bool) {
	switch expr {
	case "tomorrow":
		return now.AddDate(0, 0, 1), true
	case "next week":
		return now.AddDate(0, 0, 7), true
	case "next month":
		return now.AddDate(0, 0, 30), true
	}
	return time.Time{}, false
}
