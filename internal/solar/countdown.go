package solar

import (
	"fmt"
	"time"
)

// ZeroCountdown is shown once the target has been reached
const ZeroCountdown = "00:00:00"

// FormatCountdown renders the time remaining until target as HH:MM:SS.
// Each unit is truncated; hours are not wrapped at 24.
func FormatCountdown(target, now time.Time) string {
	if !target.After(now) {
		return ZeroCountdown
	}

	total := int64(target.Sub(now) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
