package borgmon

import (
	"fmt"
	"time"
)

// FormatSize renders a byte count the way the dashboard displays it.
func FormatSize(size int64) string {
	if size <= 0 {
		return "0 B"
	}
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024.0 {
			if unit == "B" {
				return fmt.Sprintf("%d B", size)
			}
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%.1f PB", value)
}

// RelativeTime renders a timestamp as "2 hours ago" style text.
func RelativeTime(t *time.Time, now time.Time) string {
	if t == nil {
		return ""
	}
	diff := now.Sub(*t)
	if diff < 0 {
		return "in the future"
	}

	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}

	seconds := int(diff.Seconds())
	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return plural(seconds/60, "minute")
	case seconds < 86400:
		return plural(seconds/3600, "hour")
	case seconds < 604800:
		return plural(seconds/86400, "day")
	case seconds < 2592000:
		return plural(seconds/604800, "week")
	case seconds < 31536000:
		return plural(seconds/2592000, "month")
	default:
		return plural(seconds/31536000, "year")
	}
}
