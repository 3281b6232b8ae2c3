package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/callcontrol"
	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/metrics"
	"voice-call-orchestrator/pkg/models"
	"voice-call-orchestrator/pkg/persona"
	"voice-call-orchestrator/pkg/speech"
	"voice-call-orchestrator/pkg/webhook"
	"voice-call-orchestrator/pkg/workflow"
)

var (
	ErrCallNotFound    = errors.New("call not found")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrMissingRoom     = errors.New("room is required")
	ErrShuttingDown    = errors.New("dispatcher is shutting down")
	ErrDuplicateCallID = errors.New("call already running")
)

// SessionFactory creates a fresh speech session for one call
type SessionFactory func() speech.Session

// CallRegistry is the cross-pod view of active calls
type CallRegistry interface {
	workflow.PhaseRecorder
	Track(ctx context.Context, callID string, startedAt time.Time) error
	Release(ctx context.Context, callID string) error
}

// Manager runs one orchestrator per call in this process
type Manager struct {
	controller callcontrol.Controller
	workflow   *config.Workflow
	catalog    *persona.Catalog
	registry   CallRegistry
	newSession SessionFactory
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	calls    map[string]*workflow.Orchestrator
	stopping bool
}

// NewManager creates a dispatcher. registry may be nil when Redis is not
// available.
func NewManager(
	controller callcontrol.Controller,
	wf *config.Workflow,
	registry CallRegistry,
	newSession SessionFactory,
	cfg *config.Config,
	logger *logrus.Logger,
	metrics *metrics.Metrics,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		controller: controller,
		workflow:   wf,
		catalog:    wf.Catalog(),
		registry:   registry,
		newSession: newSession,
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		ctx:        ctx,
		cancel:     cancel,
		calls:      make(map[string]*workflow.Orchestrator),
	}
}

// StartOutbound dials req.PhoneNumber and runs the call in the background
func (m *Manager) StartOutbound(ctx context.Context, req models.OutboundCallRequest) (*workflow.Orchestrator, error) {
	phone := strings.TrimSpace(req.PhoneNumber)
	if !validPhone(phone) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhone, req.PhoneNumber)
	}

	callID := uuid.New().String()
	settings := m.settings(callID, req.Room, req.Metadata)
	settings.Direction = workflow.DirectionOutbound
	settings.PhoneNumber = phone
	settings.SIPTrunkID = m.config.SIPOutboundTrunkID

	return m.start(ctx, settings)
}

// StartInbound attaches an agent to a caller already in room
func (m *Manager) StartInbound(ctx context.Context, room string, metadata map[string]string) (*workflow.Orchestrator, error) {
	if strings.TrimSpace(room) == "" {
		return nil, ErrMissingRoom
	}
	settings := m.settings(uuid.New().String(), room, metadata)
	return m.start(ctx, settings)
}

func (m *Manager) settings(callID, room string, metadata map[string]string) workflow.Settings {
	settings := workflow.NewSettings(m.workflow)
	settings.CallID = callID
	settings.Room = room
	if settings.Room == "" {
		settings.Room = "call-" + callID
	}
	settings.Metadata = metadata
	return settings
}

func (m *Manager) start(ctx context.Context, settings workflow.Settings) (*workflow.Orchestrator, error) {
	notifier := webhook.NewClient(webhook.Config{
		URL:        m.workflow.WebhookURL(m.config.WebhookURL),
		AuthHeader: m.workflow.Integrations.Webhook.AuthHeader,
		Timeout:    m.workflow.WebhookTimeout(),
	}, m.logger, m.metrics)

	var phases workflow.PhaseRecorder
	if m.registry != nil {
		phases = m.registry
	}

	orchestrator, err := workflow.NewOrchestrator(m.newSession(), m.controller, m.catalog, notifier, phases, settings, m.logger, m.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	callID := orchestrator.CallID()

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, exists := m.calls[callID]; exists {
		m.mu.Unlock()
		return nil, ErrDuplicateCallID
	}
	m.calls[callID] = orchestrator
	m.wg.Add(1)
	m.mu.Unlock()

	if m.registry != nil {
		if err := m.registry.Track(ctx, callID, time.Now()); err != nil {
			m.logger.WithError(err).WithField("call_id", callID).Warn("Failed to register call")
		}
	}

	m.logger.WithFields(logrus.Fields{
		"call_id":   callID,
		"room":      settings.Room,
		"direction": settings.Direction,
	}).Info("Dispatching call")

	go m.run(orchestrator)
	return orchestrator, nil
}

func (m *Manager) run(orchestrator *workflow.Orchestrator) {
	defer m.wg.Done()
	callID := orchestrator.CallID()

	if err := orchestrator.Run(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.WithError(err).WithField("call_id", callID).Error("Call ended with error")
	}

	m.mu.Lock()
	delete(m.calls, callID)
	m.mu.Unlock()

	if m.registry != nil {
		if err := m.registry.Release(context.Background(), callID); err != nil {
			m.logger.WithError(err).WithField("call_id", callID).Warn("Failed to release call")
		}
	}
}

func (m *Manager) Get(callID string) (*workflow.Orchestrator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orchestrator, ok := m.calls[callID]
	return orchestrator, ok
}

// Hangup ends a running call without a farewell
func (m *Manager) Hangup(callID, reason string) error {
	orchestrator, ok := m.Get(callID)
	if !ok {
		return ErrCallNotFound
	}
	orchestrator.Hangup(reason)
	return nil
}

// HangupRoom ends the call running in room. Rooms map to at most one call.
func (m *Manager) HangupRoom(room, reason string) (string, error) {
	if room == "" {
		return "", ErrCallNotFound
	}

	m.mu.RLock()
	var found *workflow.Orchestrator
	for _, orchestrator := range m.calls {
		if orchestrator.Room() == room {
			found = orchestrator
			break
		}
	}
	m.mu.RUnlock()

	if found == nil {
		return "", ErrCallNotFound
	}
	found.Hangup(reason)
	return found.CallID(), nil
}

// Count returns the number of calls running in this process
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Shutdown refuses new calls, cancels running ones and waits for their
// completion payloads to be delivered or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain calls: %w", ctx.Err())
	}
}

// validPhone accepts an optional leading '+' followed by 6 to 15 digits.
// Spaces and dashes are allowed as separators.
func validPhone(phone string) bool {
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return digits >= 6 && digits <= 15
}
