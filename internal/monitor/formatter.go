package monitor

import (
	"fmt"
	"time"
)

// FormatCoord formats a position as "lat, lng" with six decimals (about 0.1 m).
func FormatCoord(lat, lng float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lng)
}

// FormatDistance formats meters as "X m" below 1 km and "X.XX km" above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.2f km", meters/1000)
}

// FormatAccuracy formats an optional accuracy as "±X m", or "-" when unset.
func FormatAccuracy(meters *float64) string {
	if meters == nil {
		return "-"
	}
	return fmt.Sprintf("±%.1f m", *meters)
}

// FormatPercentage formats a percentage (0-100).
func FormatPercentage(pct float64) string {
	return fmt.Sprintf("%.1f%%", pct)
}

// FormatAge formats the time elapsed since t as "just now", "Xs ago",
// "Xm ago" or "Xh Ym ago".
func FormatAge(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < 2*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
}
