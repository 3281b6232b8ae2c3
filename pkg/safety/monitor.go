package safety

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/metrics"
)

// Reason names the limit that tripped
type Reason string

const (
	ReasonMaxDuration Reason = "max_duration"
	ReasonInactivity  Reason = "inactivity"
)

// Terminator performs the graceful end of a call
type Terminator interface {
	Terminate(ctx context.Context, reason Reason)
}

// TerminatorFunc adapts a function to Terminator
type TerminatorFunc func(ctx context.Context, reason Reason)

func (f TerminatorFunc) Terminate(ctx context.Context, reason Reason) { f(ctx, reason) }

type Config struct {
	Enabled           bool
	MaxDuration       time.Duration
	InactivityTimeout time.Duration
	PollInterval      time.Duration
}

// DefaultConfig returns the monitor limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MaxDuration:       constants.SecondsToDuration(constants.DefaultMaxCallDurationSeconds),
		InactivityTimeout: constants.SecondsToDuration(constants.DefaultInactivityTimeoutSeconds),
		PollInterval:      constants.SecondsToDuration(constants.DefaultSafetyPollIntervalSeconds),
	}
}

// Monitor enforces maximum call duration and caller inactivity. It triggers
// the terminator at most once per call.
type Monitor struct {
	config     Config
	terminator Terminator
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu           sync.Mutex
	callStart    time.Time
	lastActivity time.Time
	fired        atomic.Bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewMonitor(config Config, terminator Terminator, logger *logrus.Logger, metrics *metrics.Metrics) *Monitor {
	return newMonitorWithClock(config, terminator, logger, metrics, time.Now)
}

func newMonitorWithClock(config Config, terminator Terminator, logger *logrus.Logger, metrics *metrics.Metrics, now func() time.Time) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = constants.SecondsToDuration(constants.DefaultSafetyPollIntervalSeconds)
	}
	start := now()
	return &Monitor{
		config:       config,
		terminator:   terminator,
		logger:       logger,
		metrics:      metrics,
		now:          now,
		callStart:    start,
		lastActivity: start,
	}
}

func (m *Monitor) NoteActivity() {
	m.mu.Lock()
	m.lastActivity = m.now()
	m.mu.Unlock()
}

func (m *Monitor) Fired() bool {
	return m.fired.Load()
}

// Run polls until a limit trips or ctx is cancelled. A disabled monitor
// returns immediately.
func (m *Monitor) Run(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Debug("Safety monitor disabled")
		return
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.check(ctx) {
				return
			}
		}
	}
}

// check evaluates both limits once and fires the terminator when one trips.
// It reports whether the monitor is finished.
func (m *Monitor) check(ctx context.Context) bool {
	if m.fired.Load() {
		return true
	}

	m.mu.Lock()
	now := m.now()
	elapsed := now.Sub(m.callStart)
	idle := now.Sub(m.lastActivity)
	m.mu.Unlock()

	var reason Reason
	switch {
	case m.config.MaxDuration > 0 && elapsed > m.config.MaxDuration:
		reason = ReasonMaxDuration
	case m.config.InactivityTimeout > 0 && idle > m.config.InactivityTimeout:
		reason = ReasonInactivity
	default:
		return false
	}

	if !m.fired.CompareAndSwap(false, true) {
		return true
	}

	m.logger.WithFields(logrus.Fields{
		"reason":       reason,
		"elapsed":      elapsed.Round(time.Second),
		"idle":         idle.Round(time.Second),
		"max_duration": m.config.MaxDuration,
		"inactivity":   m.config.InactivityTimeout,
	}).Warn("Safety limit reached, terminating call")
	m.metrics.SafetyTerminations.WithLabelValues(string(reason)).Inc()

	// Termination must complete even if the monitor is stopped meanwhile
	m.terminator.Terminate(context.WithoutCancel(ctx), reason)
	return true
}

// Start runs the monitor on its own goroutine until Stop is called. Both
// limits are measured from Start, so time spent ringing does not count.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.done != nil || m.stopped {
		return
	}

	m.mu.Lock()
	m.callStart = m.now()
	m.lastActivity = m.callStart
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.Run(runCtx)
	}()
}

// Stop cancels the monitor and waits for its goroutine to exit. A stopped
// monitor cannot be started again.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	m.stopped = true
	cancel, done := m.cancel, m.done
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
