package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

var (
	ErrMalformedTime = errors.New("malformed time of day")
	ErrNoWeekdays    = errors.New("definition has no valid weekdays")
)

// ParseClock converts "HH:MM" or "HH:MM:SS" into minutes after midnight. Seconds are
// truncated. "24:00" parses to 1440 so it can close a window at midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	var fields [3]int
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
		}
		fields[i] = n
	}
	h, m, sec := fields[0], fields[1], fields[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	if h == 24 && m == 0 && sec == 0 {
		return minutesPerDay, nil
	}
	if h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTime, s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes as "HH:MM", folding offsets past midnight back into the day.
func FormatClock(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeClock rewrites a valid time of day as "HH:MM".
func NormalizeClock(s string) (string, error) {
	m, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	if m == minutesPerDay {
		return "", fmt.Errorf("%w: %q is not a slot start", ErrMalformedTime, s)
	}
	return FormatClock(m), nil
}

var weekdayNames = map[string]time.Weekday{}

func init() {
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		weekdayNames[full] = d
		weekdayNames[full[:3]] = d
	}
}

// ParseWeekday accepts full or three-letter English names in any case.
func ParseWeekday(name string) (time.Weekday, bool) {
	d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	return d, ok
}

// ParseDate parses a calendar date ("2006-01-02") at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(s))
}
