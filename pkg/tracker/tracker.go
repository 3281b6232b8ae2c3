package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/models"
)

// ConversationTracker is the append-only log of a single call
type ConversationTracker struct {
	mu       sync.Mutex
	callID   string
	start    time.Time
	turns    []models.ConversationTurn
	handoffs []models.HandoffRecord
	logger   *logrus.Logger
	now      func() time.Time
}

func NewConversationTracker(callID string, logger *logrus.Logger) *ConversationTracker {
	if callID == "" {
		callID = uuid.New().String()
	}
	return &ConversationTracker{
		callID: callID,
		start:  time.Now(),
		logger: logger,
		now:    time.Now,
	}
}

func (t *ConversationTracker) CallID() string {
	return t.callID
}

func (t *ConversationTracker) StartTime() time.Time {
	return t.start
}

// Record appends a turn. Turns without a role are dropped.
func (t *ConversationTracker) Record(role models.Role, text, personaName string, timestamp time.Time) {
	if role == "" {
		t.logger.WithField("call_id", t.callID).Warn("Dropping conversation turn without role")
		return
	}
	if timestamp.IsZero() {
		timestamp = t.now()
	}

	t.mu.Lock()
	t.turns = append(t.turns, models.ConversationTurn{
		Role:      role,
		Content:   text,
		Persona:   personaName,
		Timestamp: timestamp,
	})
	t.mu.Unlock()
}

func (t *ConversationTracker) RecordHandoff(source, target, reason string) {
	t.mu.Lock()
	t.handoffs = append(t.handoffs, models.HandoffRecord{
		FromPersona: source,
		ToPersona:   target,
		Reason:      reason,
		Timestamp:   t.now(),
	})
	t.mu.Unlock()
}

// Duration uses the monotonic clock reading captured at construction
func (t *ConversationTracker) Duration() time.Duration {
	d := time.Since(t.start)
	if d < 0 {
		return 0
	}
	return d
}

func (t *ConversationTracker) Turns() []models.ConversationTurn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.ConversationTurn(nil), t.turns...)
}

func (t *ConversationTracker) Handoffs() []models.HandoffRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.HandoffRecord(nil), t.handoffs...)
}

// AgentsUsed lists persona names in the order they first spoke
func (t *ConversationTracker) AgentsUsed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool)
	agents := []string{}
	for _, turn := range t.turns {
		if turn.Persona == "" || seen[turn.Persona] {
			continue
		}
		seen[turn.Persona] = true
		agents = append(agents, turn.Persona)
	}
	return agents
}

func (t *ConversationTracker) Summary() models.CallSummary {
	duration := t.Duration()

	t.mu.Lock()
	defer t.mu.Unlock()

	return models.CallSummary{
		CallID:          t.callID,
		DurationSeconds: duration.Seconds(),
		Conversation:    append([]models.ConversationTurn{}, t.turns...),
		Handoffs:        append([]models.HandoffRecord{}, t.handoffs...),
		StartTime:       t.start,
		EndTime:         t.start.Add(duration),
	}
}
