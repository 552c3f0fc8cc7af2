package predictions

import (
	"fmt"
	"time"
)

// FormatRelative renders t as "Just now", "Nm ago", "Nh ago", or a date once
// it is a day old or more.
func FormatRelative(t, now time.Time) string {
	mins := int(now.Sub(t) / time.Minute)
	switch {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%dm ago", mins)
	case mins < 1440:
		return fmt.Sprintf("%dh ago", mins/60)
	}
	return t.Format("2006-01-02")
}
