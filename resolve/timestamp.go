package resolve

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC1123Z,
	time.RFC1123,
	"Mon Jan 2 15:04:05 2006 MST",
	"Mon Jan _2 15:04:05 2006 MST",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Jan 2, 2006",
	"2 Jan 2006",
}

var relativePattern = regexp.MustCompile(`^(\d+|an?|one)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|wks?|w|months?|mo|years?|yrs?|y)\.?(\s+ago)?$`)

// ParseTimestamp reads the raw timestamp forms seen on listing and detail pages:
// absolute layouts, unix seconds or milliseconds, and relative ages like "5 hours ago".
func ParseTimestamp(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if ts, ok := parseUnix(s); ok {
		return ts, true
	}

	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}

	return parseRelative(strings.ToLower(s), now)
}

func parseUnix(s string) (time.Time, bool) {
	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value <= 0 {
		return time.Time{}, false
	}
	// anything past year 2286 in seconds is taken as milliseconds
	if value >= 1e10 {
		return time.UnixMilli(int64(value)).UTC(), true
	}
	if value < 1e8 {
		return time.Time{}, false
	}
	return time.Unix(int64(value), 0).UTC(), true
}

func parseRelative(s string, now time.Time) (time.Time, bool) {
	switch s {
	case "just now", "now", "moments ago":
		return now, true
	case "yesterday":
		return now.Add(-24 * time.Hour), true
	}

	m := relativePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	n := 1
	if v, err := strconv.Atoi(m[1]); err == nil {
		n = v
	}

	var unit time.Duration
	switch u := m[2]; {
	case strings.HasPrefix(u, "mo"):
		unit = 30 * 24 * time.Hour
	case strings.HasPrefix(u, "s"):
		unit = time.Second
	case strings.HasPrefix(u, "m"):
		unit = time.Minute
	case strings.HasPrefix(u, "h"):
		unit = time.Hour
	case strings.HasPrefix(u, "d"):
		unit = 24 * time.Hour
	case strings.HasPrefix(u, "w"):
		unit = 7 * 24 * time.Hour
	case strings.HasPrefix(u, "y"):
		unit = 365 * 24 * time.Hour
	default:
		return time.Time{}, false
	}
	return now.Add(-time.Duration(n) * unit), true
}
