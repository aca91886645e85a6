package quotations

import (
	"fmt"
	"time"
)

// DefaultResponseWindow is how long a customer has to answer a sent quotation.
const DefaultResponseWindow = 12 * time.Hour

// Window computes response deadlines.
type Window struct {
	Length time.Duration
}

// NewWindow returns a window of length, falling back to the default.
func NewWindow(length time.Duration) Window {
	if length <= 0 {
		length = DefaultResponseWindow
	}
	return Window{Length: length}
}

// Deadline is the end of the response window. It counts from the time the
// quotation was sent, or from creation for quotations sent before SentAt was
// recorded.
func (w Window) Deadline(q *Quotation) time.Time {
	start := q.CreatedAt
	if q.SentAt != nil {
		start = *q.SentAt
	}
	return start.Add(w.Length)
}

// Remaining is the time left to respond, never negative.
func (w Window) Remaining(q *Quotation, now time.Time) time.Duration {
	left := w.Deadline(q).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the window has closed at now. The deadline instant
// itself is already outside the window.
func (w Window) Expired(q *Quotation, now time.Time) bool {
	return !now.Before(w.Deadline(q))
}

// FormatCountdown renders d as HH:MM:SS for display.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second))
}
