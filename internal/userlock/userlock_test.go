package userlock

import (
	"sync"
	"testing"
)

// held counts users holding or waiting on a lock.
func held(r *Registry) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

func TestLockSerializesPerUser(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	active, maxActive := 0, 0
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := r.Lock("u1")
			defer unlock()

			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
	if n := held(r); n != 0 {
		t.Errorf("held = %d after release, want 0", n)
	}
}

func TestLockIndependentUsers(t *testing.T) {
	r := New()
	unlockA := r.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := r.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
