package utils

import (
	"sync"
	"testing"
	"time"
)

func TestDebouncerRestartsWait(t *testing.T) {
	var mu sync.Mutex
	fired := map[string]int{}
	d := NewDebouncer(80*time.Millisecond, func(key string) {
		mu.Lock()
		fired[key]++
		mu.Unlock()
	})
	defer d.Stop()

	d.Schedule("c1")
	time.Sleep(40 * time.Millisecond)
	d.Schedule("c1")
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	if fired["c1"] != 0 {
		t.Fatalf("fired before the quiet period elapsed")
	}
	mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired["c1"] != 1 {
		t.Fatalf("expected one run, got %d", fired["c1"])
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, func(key string) {
		t.Errorf("cancelled key %s fired", key)
	})
	d.Schedule("c1")
	if !d.Cancel("c1") {
		t.Fatalf("expected a pending run")
	}
	if d.Pending() != 0 {
		t.Fatalf("expected nothing pending")
	}
	time.Sleep(60 * time.Millisecond)
}
