package utils

import (
	"sync"
	"time"
)

// Debouncer runs fire(key) once a key has been quiet for the configured
// duration. Scheduling a key again restarts its wait.
type Debouncer struct {
	mu     sync.Mutex
	quiet  time.Duration
	fire   func(key string)
	timers map[string]*debounceTimer
	closed bool
}

type debounceTimer struct {
	timer *time.Timer
}

func NewDebouncer(quiet time.Duration, fire func(key string)) *Debouncer {
	return &Debouncer{quiet: quiet, fire: fire, timers: make(map[string]*debounceTimer)}
}

func (d *Debouncer) Schedule(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if current, ok := d.timers[key]; ok {
		current.timer.Stop()
	}
	entry := &debounceTimer{}
	entry.timer = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		if d.timers[key] != entry {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.mu.Unlock()
		d.fire(key)
	})
	d.timers[key] = entry
}

// Cancel drops a pending run. It reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, ok := d.timers[key]
	if !ok {
		return false
	}
	current.timer.Stop()
	delete(d.timers, key)
	return true
}

func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels everything pending and refuses new work.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, current := range d.timers {
		current.timer.Stop()
		delete(d.timers, key)
	}
}
