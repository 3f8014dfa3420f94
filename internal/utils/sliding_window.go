package utils

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// SlidingWindow counts hits per key over a trailing duration.
type SlidingWindow struct {
	window time.Duration
	keys   *xsync.MapOf[string, *hitLog]
}

type hitLog struct {
	mu   sync.Mutex
	hits []time.Time
}

// prune drops hits at or before cutoff. Callers hold mu.
func (l *hitLog) prune(cutoff time.Time) {
	idx := 0
	for idx < len(l.hits) && !l.hits[idx].After(cutoff) {
		idx++
	}
	l.hits = l.hits[idx:]
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window, keys: xsync.NewMapOf[string, *hitLog]()}
}

// Hit records a hit for key at now and returns the hits inside the window.
func (w *SlidingWindow) Hit(key string, now time.Time) int {
	log, _ := w.keys.LoadOrCompute(key, func() *hitLog { return &hitLog{} })
	log.mu.Lock()
	defer log.mu.Unlock()
	log.prune(now.Add(-w.window))
	log.hits = append(log.hits, now)
	return len(log.hits)
}

func (w *SlidingWindow) Count(key string, now time.Time) int {
	log, ok := w.keys.Load(key)
	if !ok {
		return 0
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	log.prune(now.Add(-w.window))
	return len(log.hits)
}

// Reset forgets key.
func (w *SlidingWindow) Reset(key string) {
	w.keys.Delete(key)
}
