// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"fmt"
	"sync"
)

// workerRegistry tracks manager-owned goroutines (request workers, store
// writes) and provides a bounded join on shutdown.
type workerRegistry struct {
	mu      sync.Mutex
	closing bool
	active  int
	wg      sync.WaitGroup
}

// Go runs fn unless the registry is closing.
func (r *workerRegistry) Go(fn func()) bool {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return false
	}
	r.active++
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			r.active--
			r.mu.Unlock()
			r.wg.Done()
		}()
		fn()
	}()
	return true
}

// Active returns the number of running goroutines.
func (r *workerRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *workerRegistry) CloseAndWait(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drm worker drain timeout (%d running): %w", r.Active(), ctx.Err())
	}
}
