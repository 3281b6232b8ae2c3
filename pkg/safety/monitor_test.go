package safety

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-call-orchestrator/pkg/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingTerminator struct {
	calls   atomic.Int32
	reasons chan Reason
}

func newRecordingTerminator() *recordingTerminator {
	return &recordingTerminator{reasons: make(chan Reason, 8)}
}

func (r *recordingTerminator) Terminate(ctx context.Context, reason Reason) {
	r.calls.Add(1)
	r.reasons <- reason
}

func setupMonitor(t *testing.T, config Config) (*Monitor, *fakeClock, *recordingTerminator) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	terminator := newRecordingTerminator()
	monitor := newMonitorWithClock(config, terminator, logger, m, clock.Now)
	t.Cleanup(monitor.Stop)

	return monitor, clock, terminator
}

func testConfig() Config {
	return Config{
		Enabled:           true,
		MaxDuration:       600 * time.Second,
		InactivityTimeout: 30 * time.Second,
		PollInterval:      5 * time.Millisecond,
	}
}

func TestMonitor_InactivityTerminates(t *testing.T) {
	monitor, clock, terminator := setupMonitor(t, testConfig())

	monitor.Start(context.Background())
	clock.Advance(31 * time.Second)

	select {
	case reason := <-terminator.reasons:
		assert.Equal(t, ReasonInactivity, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not terminate the call")
	}
	assert.True(t, monitor.Fired())
}

func TestMonitor_MaxDurationTerminates(t *testing.T) {
	// Inactivity off so only the duration limit can trip
	config := testConfig()
	config.InactivityTimeout = 0
	monitor, clock, terminator := setupMonitor(t, config)

	monitor.Start(context.Background())
	clock.Advance(601 * time.Second)

	select {
	case reason := <-terminator.reasons:
		assert.Equal(t, ReasonMaxDuration, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not terminate the call")
	}
}

func TestMonitor_LimitsMeasuredFromStart(t *testing.T) {
	monitor, clock, terminator := setupMonitor(t, testConfig())

	// Ringing before the call is answered
	clock.Advance(45 * time.Second)
	monitor.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), terminator.calls.Load())
	assert.False(t, monitor.Fired())

	clock.Advance(31 * time.Second)
	select {
	case reason := <-terminator.reasons:
		assert.Equal(t, ReasonInactivity, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not terminate the call")
	}
}

func TestMonitor_FiresAtMostOnce(t *testing.T) {
	monitor, clock, terminator := setupMonitor(t, testConfig())
	clock.Advance(45 * time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.True(t, monitor.check(ctx))
	}

	assert.Equal(t, int32(1), terminator.calls.Load())
}

func TestMonitor_ActivityPreventsTermination(t *testing.T) {
	monitor, clock, terminator := setupMonitor(t, testConfig())

	for i := 0; i < 5; i++ {
		clock.Advance(20 * time.Second)
		monitor.NoteActivity()
		assert.False(t, monitor.check(context.Background()))
	}

	assert.Equal(t, int32(0), terminator.calls.Load())
	assert.False(t, monitor.Fired())
}

func TestMonitor_DisabledReturnsImmediately(t *testing.T) {
	config := testConfig()
	config.Enabled = false
	monitor, clock, terminator := setupMonitor(t, config)
	clock.Advance(time.Hour)

	done := make(chan struct{})
	go func() {
		monitor.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled monitor did not return")
	}
	assert.Equal(t, int32(0), terminator.calls.Load())
}

func TestMonitor_StopPreventsFiring(t *testing.T) {
	monitor, clock, terminator := setupMonitor(t, testConfig())

	monitor.Start(context.Background())
	monitor.Stop()
	clock.Advance(time.Hour)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), terminator.calls.Load())

	// Stop is idempotent and Start after Stop is ignored
	monitor.Stop()
	monitor.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), terminator.calls.Load())
}

func TestMonitor_StopWithoutStart(t *testing.T) {
	monitor, _, _ := setupMonitor(t, testConfig())
	require.NotPanics(t, monitor.Stop)
}

func TestMonitor_CancelledContextStopsRun(t *testing.T) {
	monitor, _, terminator := setupMonitor(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not stop on cancel")
	}
	assert.Equal(t, int32(0), terminator.calls.Load())
}
