package realtime

import (
	"sync"
	"time"
)

// throttle is a trailing-edge timer for one event name. Every schedule call
// replaces the pending compute and pushes the timer back by one window, but
// never past twice the window from the first deferred call.
type throttle struct {
	event string
	fire  func(event string, compute func() (any, error))

	mu      sync.Mutex
	timer   *time.Timer
	pending func() (any, error)
	firstAt time.Time
	gen     uint64
	stopped bool
}

func newThrottle(event string, fire func(string, func() (any, error))) *throttle {
	return &throttle{event: event, fire: fire}
}

// schedule is a no-op once stop has run.
func (t *throttle) schedule(compute func() (any, error), window time.Duration) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if window <= 0 {
		t.mu.Unlock()
		t.fire(t.event, compute)
		return
	}
	defer t.mu.Unlock()

	now := time.Now()
	t.pending = compute
	if t.timer == nil {
		t.firstAt = now
	} else {
		t.timer.Stop()
	}

	delay := window
	if deadline := t.firstAt.Add(2 * window); now.Add(delay).After(deadline) {
		delay = deadline.Sub(now)
		if delay < 0 {
			delay = 0
		}
	}

	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(delay, func() { t.flush(gen) })
}

func (t *throttle) flush(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.pending == nil {
		t.mu.Unlock()
		return
	}
	compute := t.pending
	t.pending = nil
	t.timer = nil
	t.mu.Unlock()

	t.fire(t.event, compute)
}

func (t *throttle) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = nil
	t.pending = nil
	t.stopped = true
	t.gen++
}
