package recording

import (
	"fmt"
	"time"
)

// FormatElapsed renders a recording's running time as m:ss, or h:mm:ss
// from one hour on. Negative durations render as 0:00.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
