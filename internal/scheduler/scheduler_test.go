package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeSentinel/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// fireRecorder records OnFire invocations and optionally blocks or fails.
type fireRecorder struct {
	mu    sync.Mutex
	calls []string
	fired chan string
	delay time.Duration
	err   error
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{fired: make(chan string, 32)}
}

func (f *fireRecorder) OnFire(ctx context.Context, id string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	f.fired <- id
	return f.err
}

func (f *fireRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitForFire(t *testing.T, f *fireRecorder, timeout time.Duration) string {
	t.Helper()
	select {
	case id := <-f.fired:
		return id
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a firing")
		return ""
	}
}

func newStartedScheduler(t *testing.T, handler ports.FireHandler) *Scheduler {
	t.Helper()
	s, err := New(Config{Logger: &mockLogger{}, Handler: handler})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return s
}

func TestScheduler_FiresRepeatedly(t *testing.T) {
	handler := newFireRecorder()
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	require.NoError(t, s.Schedule("strat-1", 20*time.Millisecond))

	for i := 0; i < 3; i++ {
		id := waitForFire(t, handler, time.Second)
		assert.Equal(t, "strat-1", id)
	}
}

func TestScheduler_RearmsFromNow(t *testing.T) {
	// A slow callback must not produce catch-up bursts: the next fire is
	// always interval from dispatch time, never from the previous deadline.
	handler := newFireRecorder()
	handler.delay = 60 * time.Millisecond
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	interval := 40 * time.Millisecond
	require.NoError(t, s.Schedule("strat-1", interval))

	waitForFire(t, handler, time.Second)
	next, err := s.NextFireTime("strat-1")
	require.NoError(t, err)

	until := time.Until(next)
	assert.Greater(t, until, time.Duration(0))
	assert.LessOrEqual(t, until, interval+20*time.Millisecond)
}

func TestScheduler_StopWaitsForInFlightCallback(t *testing.T) {
	handler := newFireRecorder()
	handler.delay = 100 * time.Millisecond
	s := newStartedScheduler(t, handler)

	require.NoError(t, s.Schedule("strat-1", time.Hour))
	require.NoError(t, s.TriggerNow("strat-1"))

	time.Sleep(20 * time.Millisecond) // let the callback get in flight
	require.NoError(t, s.Stop())
	assert.Equal(t, 1, handler.count(), "Stop must not return before the callback completes")
}

func TestScheduler_TriggerNowKeepsSchedule(t *testing.T) {
	handler := newFireRecorder()
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	require.NoError(t, s.Schedule("strat-1", time.Hour))
	before, err := s.NextFireTime("strat-1")
	require.NoError(t, err)

	require.NoError(t, s.TriggerNow("strat-1"))
	waitForFire(t, handler, time.Second)

	after, err := s.NextFireTime("strat-1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "immediate trigger must not touch the regular schedule")

	err = s.TriggerNow("unknown")
	assert.ErrorIs(t, err, ports.ErrNotScheduled)
}

func TestScheduler_Unschedule(t *testing.T) {
	handler := newFireRecorder()
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	require.NoError(t, s.Schedule("strat-1", 25*time.Millisecond))
	waitForFire(t, handler, time.Second)

	require.NoError(t, s.Unschedule("strat-1"))
	fired := handler.count()

	time.Sleep(100 * time.Millisecond)
	// Allow one firing that was already in flight when we unscheduled.
	assert.LessOrEqual(t, handler.count(), fired+1)

	assert.ErrorIs(t, s.Unschedule("strat-1"), ports.ErrNotScheduled)
	_, err := s.NextFireTime("strat-1")
	assert.ErrorIs(t, err, ports.ErrNotScheduled)
}

func TestScheduler_Reschedule(t *testing.T) {
	handler := newFireRecorder()
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	require.NoError(t, s.Schedule("strat-1", time.Hour))
	require.NoError(t, s.Reschedule("strat-1", 20*time.Millisecond))
	waitForFire(t, handler, time.Second)

	assert.ErrorIs(t, s.Reschedule("unknown", time.Second), ports.ErrNotScheduled)
}

func TestScheduler_ScheduleReplacesExisting(t *testing.T) {
	handler := newFireRecorder()
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	require.NoError(t, s.Schedule("strat-1", time.Hour))
	require.NoError(t, s.Schedule("strat-1", 20*time.Millisecond))
	waitForFire(t, handler, time.Second)

	assert.Equal(t, []string{"strat-1"}, s.Scheduled())
}

func TestScheduler_RejectsWhenNotRunning(t *testing.T) {
	handler := newFireRecorder()
	s, err := New(Config{Logger: &mockLogger{}, Handler: handler})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Schedule("strat-1", time.Second), ports.ErrEngineNotRunning)

	require.NoError(t, s.Start())
	require.NoError(t, s.Schedule("strat-1", time.Hour))
	require.NoError(t, s.Stop())

	assert.ErrorIs(t, s.Schedule("strat-2", time.Second), ports.ErrEngineNotRunning)
	assert.ErrorIs(t, s.TriggerNow("strat-1"), ports.ErrEngineNotRunning)
}

func TestScheduler_RejectsInvalidInterval(t *testing.T) {
	handler := newFireRecorder()
	s := newStartedScheduler(t, handler)
	defer s.Stop()

	assert.ErrorIs(t, s.Schedule("strat-1", 0), ports.ErrInvalidRequest)
	assert.ErrorIs(t, s.Schedule("strat-1", -time.Second), ports.ErrInvalidRequest)
}
