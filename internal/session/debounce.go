package session

import (
	"sync"
	"time"
)

// Debounce is a cancellable delayed task: Arm schedules fn after the settle
// delay, re-arming cancels the previous schedule and starts over. It replaces
// ad-hoc timer juggling for search settling and typing expiry.
type Debounce struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewDebounce creates a debouncer with the given settle delay.
func NewDebounce(delay time.Duration) *Debounce {
	return &Debounce{delay: delay}
}

// Arm schedules fn after the settle delay, replacing any pending schedule.
func (d *Debounce) Arm(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Cancel drops any pending schedule.
func (d *Debounce) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
