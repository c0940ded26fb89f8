package redisq

import "time"

// AdaptivePoller spaces out dequeue attempts while the queue is idle and
// snaps back to the minimum interval as soon as work appears. Keeps idle
// workers from hammering Redis without adding latency under load.
type AdaptivePoller struct {
	min     time.Duration
	max     time.Duration
	backoff float64
	current time.Duration
}

// NewAdaptivePoller builds a poller starting at min. backoff is the idle
// multiplier (values ≤1 disable growth).
func NewAdaptivePoller(min, max time.Duration, backoff float64) *AdaptivePoller {
	if backoff < 1 {
		backoff = 1
	}
	return &AdaptivePoller{min: min, max: max, backoff: backoff, current: min}
}

// Interval returns the current wait between polls.
func (p *AdaptivePoller) Interval() time.Duration { return p.current }

// Hit resets the interval after a successful dequeue.
func (p *AdaptivePoller) Hit() { p.current = p.min }

// Miss grows the interval after an empty poll, capped at max.
func (p *AdaptivePoller) Miss() {
	next := time.Duration(float64(p.current) * p.backoff)
	if next > p.max {
		next = p.max
	}
	p.current = next
}
