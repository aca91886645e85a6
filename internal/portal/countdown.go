package portal

import (
	"context"
	"time"

	"github.com/odyssey-erp/rfq-portal/internal/quotations"
)

// Countdown ticks the remaining response time of a quotation for display.
type Countdown struct {
	deadline time.Time
	interval time.Duration
	now      func() time.Time
}

// NewCountdown counts down to deadline once per second.
func NewCountdown(deadline time.Time) *Countdown {
	return &Countdown{deadline: deadline, interval: time.Second, now: time.Now}
}

// CountdownFor returns the countdown of a sent quotation, or nil when it has
// no deadline.
func CountdownFor(q *quotations.View) *Countdown {
	if q.Deadline == nil {
		return nil
	}
	return NewCountdown(*q.Deadline)
}

// Run calls fn with the remaining time and its HH:MM:SS rendering on every
// tick. It returns nil after the tick that reached zero, or ctx's error.
func (c *Countdown) Run(ctx context.Context, fn func(remaining time.Duration, text string)) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		remaining := c.deadline.Sub(c.now())
		if remaining < 0 {
			remaining = 0
		}
		fn(remaining, quotations.FormatCountdown(remaining))
		if remaining == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
