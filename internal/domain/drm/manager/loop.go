// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// msgTag classifies queued messages so a manager can purge what it posted.
type msgTag int

const (
	tagCall        msgTag = iota // caller work and sink notifications
	tagEngineEvent               // engine events, purged when the last session is released
	tagKeyResponse               // key exchange results, purged with engine events
	tagProvision                 // provisioning completion, never purged
)

type message struct {
	owner any
	tag   msgTag
	fn    func()
}

// Loop is a single goroutine executing posted functions in FIFO order. The
// playback loop of a Manager and every request worker are Loops. The mailbox
// is unbounded so posting never blocks.
type Loop struct {
	mu      sync.Mutex
	q       *queue.Queue
	stopped bool

	signal   chan struct{}
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// NewLoop starts a playback loop on its own goroutine.
func NewLoop() *Loop {
	l := newLoop()
	go l.run()
	return l
}

func newLoop() *Loop {
	return &Loop{
		q:        queue.New(),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// startLoop runs a loop through spawn. If spawn refuses, the loop is
// returned already stopped.
func startLoop(spawn func(func()) bool) *Loop {
	l := newLoop()
	if !spawn(l.run) {
		l.Stop()
		close(l.finished)
	}
	return l
}

// Post schedules fn on the loop. It reports false once the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	return l.post(nil, tagCall, fn)
}

func (l *Loop) post(owner any, tag msgTag, fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.q.Add(message{owner: owner, tag: tag, fn: fn})
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// purge drops queued messages posted by owner with one of tags.
func (l *Loop) purge(owner any, tags ...msgTag) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := queue.New()
	dropped := 0
	for l.q.Length() > 0 {
		m := l.q.Remove().(message)
		if m.owner == owner && hasTag(tags, m.tag) {
			dropped++
			continue
		}
		kept.Add(m)
	}
	l.q = kept
	return dropped
}

func hasTag(tags []msgTag, tag msgTag) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Len returns the number of queued messages.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.Length()
}

// Flush blocks until every message posted before the call has run.
func (l *Loop) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !l.Post(func() { close(done) }) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop prevents further posts and ends the goroutine after the running
// message. Queued messages are discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.q = queue.New()
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed when the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.finished
}

func (l *Loop) run() {
	defer close(l.finished)
	for {
		select {
		case <-l.done:
			return
		case <-l.signal:
		}
		for {
			select {
			case <-l.done:
				return
			default:
			}
			l.mu.Lock()
			if l.q.Length() == 0 {
				l.mu.Unlock()
				break
			}
			m := l.q.Remove().(message)
			l.mu.Unlock()
			m.fn()
		}
	}
}
