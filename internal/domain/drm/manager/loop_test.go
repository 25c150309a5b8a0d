// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
)

func TestLoop_RunsInOrder(t *testing.T) {
	l := NewLoop()
	defer func() { l.Stop(); <-l.Done() }()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_PurgeOnlyDropsOwnedTags(t *testing.T) {
	l := NewLoop()
	defer func() { l.Stop(); <-l.Done() }()

	block := make(chan struct{})
	l.Post(func() { <-block })

	owner, other := new(int), new(int)
	ran := make(chan string, 4)
	l.post(owner, tagEngineEvent, func() { ran <- "owner-event" })
	l.post(owner, tagProvision, func() { ran <- "owner-provision" })
	l.post(other, tagEngineEvent, func() { ran <- "other-event" })

	assert.Equal(t, 1, l.purge(owner, tagEngineEvent, tagKeyResponse))
	close(block)
	require.NoError(t, l.Flush(context.Background()))
	close(ran)

	var got []string
	for r := range ran {
		got = append(got, r)
	}
	assert.Equal(t, []string{"owner-provision", "other-event"}, got)
}

func TestLoop_StopRejectsPosts(t *testing.T) {
	l := NewLoop()
	l.Stop()
	<-l.Done()
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Flush(context.Background()), ErrLoopStopped)
	l.Stop()
}

func TestLoop_FlushHonoursContext(t *testing.T) {
	l := NewLoop()
	defer func() { l.Stop(); <-l.Done() }()

	block := make(chan struct{})
	defer close(block)
	l.Post(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Flush(ctx), context.DeadlineExceeded)
}

func TestStartLoop_RefusedSpawn(t *testing.T) {
	l := startLoop(func(func()) bool { return false })
	<-l.Done()
	assert.False(t, l.Post(func() {}))
}

func TestWorkerRegistry_CloseAndWait(t *testing.T) {
	var r workerRegistry
	release := make(chan struct{})
	require.True(t, r.Go(func() { <-release }))
	assert.Equal(t, 1, r.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.CloseAndWait(ctx), context.DeadlineExceeded)
	assert.False(t, r.Go(func() {}))

	close(release)
	require.NoError(t, r.CloseAndWait(context.Background()))
	assert.Zero(t, r.Active())
}

func TestManager_Close_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	engine := newStubEngine()
	engine.notProvisioned = true
	tr := newStubTransport()
	tr.provGate = make(chan struct{})
	tr.keyGate = make(chan struct{})

	loop := NewLoop()
	m, err := New(Config{Scheme: model.WidevineUUID}, Deps{Engine: engine, Transport: tr})
	require.NoError(t, err)

	s, err := m.AcquireSession(loop, widevineInit())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return tr.provCalls.Load() == 1 }, waitFor, tick)
	assert.Equal(t, 1, m.workers.Active(), "provisioning worker")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, model.StateReleased, s.State())

	loop.Stop()
	<-loop.Done()
}
