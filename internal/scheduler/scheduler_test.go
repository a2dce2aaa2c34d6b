package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []string
	inFlight  map[string]bool
	failing   map[string]bool
	block     chan struct{}
	started   chan struct{}
}

func (f *fakeRefresher) Refresh(_ context.Context, token string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, token)
	if f.failing[token] {
		return errors.New("upstream unavailable")
	}
	return nil
}

func (f *fakeRefresher) InFlight(token string) bool {
	return f.inFlight[token]
}

type fakeSessions []string

func (f fakeSessions) ActiveTokens() []string { return f }

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) Sweep() int {
	f.calls++
	return 3
}

func TestActivity_Window(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewActivity(10*time.Minute, func() time.Time { return now })

	a.Touch("old")
	now = now.Add(8 * time.Minute)
	a.Touch("new")
	assert.Equal(t, []string{"new", "old"}, a.Recent())

	now = now.Add(5 * time.Minute)
	assert.Equal(t, []string{"new"}, a.Recent())
	assert.Equal(t, 1, a.Len())

	a.Touch("old")
	assert.Equal(t, []string{"new", "old"}, a.Recent())
}

func TestTick(t *testing.T) {
	activity := NewActivity(time.Minute, nil)
	activity.Touch("b")
	activity.Touch("c")
	activity.Touch("d")

	refresher := &fakeRefresher{
		inFlight: map[string]bool{"c": true},
		failing:  map[string]bool{"d": true},
	}
	sweeper := &fakeSweeper{}
	s := New(Options{
		Refresher: refresher,
		Interval:  time.Minute,
		Sessions:  fakeSessions{"a", "b"},
		Activity:  activity,
		Sweeper:   sweeper,
	})

	res, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, res.Tokens)
	assert.Equal(t, 2, res.Refreshed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, res.Swept)
	assert.ElementsMatch(t, []string{"a", "b", "d"}, refresher.refreshed)

	// A failed token is retried on the next tick.
	refresher.refreshed = nil
	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Contains(t, refresher.refreshed, "d")

	runs, last := s.Runs()
	assert.Equal(t, 2, runs)
	assert.False(t, last.IsZero())
	assert.Equal(t, 2, sweeper.calls)
}

func TestTick_NoTokens(t *testing.T) {
	s := New(Options{Refresher: &fakeRefresher{}})

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Tokens)
}

func TestTick_Overlap(t *testing.T) {
	refresher := &fakeRefresher{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s := New(Options{Refresher: refresher, Sessions: fakeSessions{"a"}})

	done := make(chan TickResult)
	go func() {
		res, _ := s.Tick(context.Background())
		done <- res
	}()
	<-refresher.started

	_, err := s.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(refresher.block)
	res := <-done
	assert.Equal(t, 1, res.Refreshed)
}

func TestRun_StopsOnCancel(t *testing.T) {
	refresher := &fakeRefresher{}
	s := New(Options{Refresher: refresher, Interval: 5 * time.Millisecond, Sessions: fakeSessions{"a"}})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		runs, _ := s.Runs()
		return runs >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
