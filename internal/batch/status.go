package batch

import (
	"fmt"
	"math"
	"time"
)

const (
	DoneMessage     = "✅ Done!"
	DoneTimeout     = 2 * time.Second
	ProgressTimeout = 5 * time.Second
)

var clockFaces = [...]string{"🕛", "🕐", "🕑", "🕒", "🕓", "🕔", "🕕", "🕖", "🕗", "🕘", "🕙", "🕚"}

// ClockFace returns the spinner frame for the given tick.
func ClockFace(tick int) string {
	if tick < 0 {
		tick = -tick
	}
	return clockFaces[tick%len(clockFaces)]
}

// Percent returns round(100 * done / total). Scheduler batches are never
// empty; an empty total from a direct caller counts as complete.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

// ProgressMessage formats the in-flight status line, e.g. "🕐 Building 2/3, 67%".
func ProgressMessage(done, total, tick int) string {
	return fmt.Sprintf("%s Building %d/%d, %d%%", ClockFace(tick), done, total, Percent(done, total))
}
