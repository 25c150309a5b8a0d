// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !debug

package lifecycle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ManuGH/xg2g-drm/internal/domain/drm/model"
	"github.com/ManuGH/xg2g-drm/internal/domain/drm/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []model.SessionState{
	model.StateClosed,
	model.StateOpening,
	model.StateOpened,
	model.StateOpenedWithKeys,
	model.StateError,
	model.StateReleased,
}

var allEvents = []EventKind{
	EvOpenRequested,
	EvOpened,
	EvKeysLoaded,
	EvKeysLost,
	EvFailed,
	EvReleased,
}

func TestTransitionTable_NoDuplicates(t *testing.T) {
	seen := map[model.SessionState]map[EventKind]struct{}{}
	for _, tr := range transitionsTable {
		if _, ok := seen[tr.From]; !ok {
			seen[tr.From] = map[EventKind]struct{}{}
		}
		if _, exists := seen[tr.From][tr.Event]; exists {
			t.Fatalf("duplicate transition: %s + %v", tr.From, tr.Event)
		}
		seen[tr.From][tr.Event] = struct{}{}
	}
}

func TestTransitionTable_ReleasedIsAbsorbing(t *testing.T) {
	for _, ev := range allEvents {
		_, ok := TransitionFor(model.StateReleased, ev)
		assert.False(t, ok, "released must not accept %v", ev)
	}
	for _, st := range allStates[:5] {
		tr, ok := TransitionFor(st, EvReleased)
		require.True(t, ok, "release must be allowed from %s", st)
		assert.Equal(t, model.StateReleased, tr.To)
	}
}

func TestTransitionTable_KeyedSessionNotDemotedByFailure(t *testing.T) {
	tr, ok := TransitionFor(model.StateOpenedWithKeys, EvFailed)
	require.True(t, ok)
	assert.Equal(t, model.StateOpenedWithKeys, tr.To)
}

func TestDispatch_HappyPath(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rec := &model.SessionRecord{State: model.StateClosed}

	for _, step := range []struct {
		ev   EventKind
		want model.SessionState
	}{
		{EvOpenRequested, model.StateOpening},
		{EvOpened, model.StateOpened},
		{EvKeysLoaded, model.StateOpenedWithKeys},
		{EvKeysLost, model.StateOpened},
		{EvFailed, model.StateError},
		{EvReleased, model.StateReleased},
	} {
		_, err := Dispatch(rec, Event{Kind: step.ev, ErrorKind: model.KindEngine, Cause: errors.New("boom")}, now)
		require.NoError(t, err, "event %v", step.ev)
		assert.Equal(t, step.want, rec.State)
	}
	assert.Equal(t, now.Unix(), rec.UpdatedAtUnix)
	assert.Empty(t, rec.LastError, "release clears the last error")
}

func TestDispatch_FailureRecordsError(t *testing.T) {
	rec := &model.SessionRecord{State: model.StateOpening}
	_, err := Dispatch(rec, Event{Kind: EvFailed, ErrorKind: model.KindTransport, Cause: errors.New("dial tcp: refused")}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, model.StateError, rec.State)
	assert.Equal(t, model.KindTransport, rec.LastErrorKind)
	assert.Equal(t, "dial tcp: refused", rec.LastError)
}

func TestDispatch_IllegalTransition(t *testing.T) {
	rec := &model.SessionRecord{State: model.StateClosed}
	_, err := Dispatch(rec, Event{Kind: EvKeysLoaded}, time.Now())
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, model.StateClosed, rec.State)

	rec.State = model.StateReleased
	_, err = Dispatch(rec, Event{Kind: EvReleased}, time.Now())
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSessionError_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind model.ErrorKind
		is   error
	}{
		{"not provisioned", fmt.Errorf("open: %w", ports.ErrNotProvisioned), model.KindNotProvisioned, ports.ErrNotProvisioned},
		{"denied", ports.ErrDeniedByServer, model.KindDeniedByServer, ports.ErrDeniedByServer},
		{"http status", &ports.HTTPStatusError{URL: "http://x", StatusCode: 503}, model.KindTransport, ErrTransport},
		{"expired", ErrKeysExpired, model.KindKeysExpired, ErrKeysExpired},
		{"other", errors.New("bad key response"), model.KindEngine, ErrEngine},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := Wrap("op", tc.err)
			assert.Equal(t, tc.kind, KindOf(wrapped))
			assert.ErrorIs(t, wrapped, tc.is)
			assert.ErrorIs(t, wrapped, tc.err)
		})
	}
}

func TestSessionError_WrapIsIdempotent(t *testing.T) {
	first := NewSessionError(model.KindSchemeUnsupported, "acquire", nil)
	assert.Same(t, first, Wrap("again", first))
	assert.ErrorIs(t, first, ErrSchemeUnsupported)
	assert.Equal(t, "acquire: SCHEME_UNSUPPORTED: drm scheme unsupported", first.Error())
}
