package download

import (
	"fmt"
	"time"
)

// FormatETA formats the estimated time remaining in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "unknown"
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%02dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm%02ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
