package conversation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_SweepOnce(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	_, err := m.Create(TypeNPCUser, player, npc)
	require.NoError(t, err)

	s := NewSweeper(m, time.Minute, nil)
	clock.Advance(31 * time.Minute)

	ended, ran := s.SweepOnce()
	assert.True(t, ran)
	assert.Equal(t, 1, ended)

	ended, ran = s.SweepOnce()
	assert.True(t, ran)
	assert.Equal(t, 0, ended)

	sweeps, failed := s.Stats()
	assert.Equal(t, int64(2), sweeps)
	assert.Equal(t, int64(0), failed)
}

func TestSweeper_SingleFlight(t *testing.T) {
	var block atomic.Bool
	entered := make(chan struct{})
	release := make(chan struct{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	m := NewManager(WithClock(func() time.Time {
		if block.Load() {
			close(entered)
			<-release
		}
		return base
	}))
	s := NewSweeper(m, time.Minute, nil)

	block.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.SweepOnce()
	}()
	<-entered
	block.Store(false)

	_, ran := s.SweepOnce()
	assert.False(t, ran)

	close(release)
	<-done

	_, ran = s.SweepOnce()
	assert.True(t, ran)
}

func TestSweeper_PanicRetriedNextTick(t *testing.T) {
	var explode atomic.Bool
	explode.Store(true)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	m := NewManager(WithClock(func() time.Time {
		if explode.Load() {
			panic("clock failure")
		}
		return base
	}))
	s := NewSweeper(m, time.Minute, nil)

	ended, ran := s.SweepOnce()
	assert.True(t, ran)
	assert.Equal(t, 0, ended)
	_, failed := s.Stats()
	assert.Equal(t, int64(1), failed)

	explode.Store(false)
	_, ran = s.SweepOnce()
	assert.True(t, ran)
	sweeps, failed := s.Stats()
	assert.Equal(t, int64(1), sweeps)
	assert.Equal(t, int64(1), failed)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	m := NewManager()
	s := NewSweeper(m, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		sweeps, _ := s.Stats()
		return sweeps > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSweeper_RunWaitsForInFlightSweep(t *testing.T) {
	var block atomic.Bool
	block.Store(true)
	entered := make(chan struct{})
	release := make(chan struct{})
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	m := NewManager(WithClock(func() time.Time {
		if block.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
		return base
	}))
	s := NewSweeper(m, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	<-entered
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while a sweep was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the sweep finished")
	}
	sweeps, _ := s.Stats()
	assert.GreaterOrEqual(t, sweeps, int64(1))
}
