package workflow

import (
	"context"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/models"
)

// Finalize stops the safety monitor and delivers the completion payload. It
// runs once per call no matter how many paths invoke it; delivery failures
// are logged and never returned.
func (o *Orchestrator) Finalize(ctx context.Context) {
	o.finalizeOnce.Do(func() {
		defer close(o.done)

		o.monitor.Stop()

		payload := o.Payload()

		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()

		o.metrics.CallsCompleted.WithLabelValues(payload.TerminationReason).Inc()
		o.metrics.CallDuration.Observe(payload.DurationSeconds)

		o.logger.WithFields(logrus.Fields{
			"call_id":            payload.CallID,
			"duration_seconds":   payload.DurationSeconds,
			"handoff_count":      payload.HandoffCount,
			"termination_reason": payload.TerminationReason,
			"turns":              len(payload.Conversation),
		}).Info("Call finished")

		o.deliver(ctx, payload)
	})
}

// Payload assembles the completion payload from the current call state
func (o *Orchestrator) Payload() models.CompletionPayload {
	summary := o.tracker.Summary()
	agents := o.tracker.AgentsUsed()

	o.mu.RLock()
	handoffs := o.handoffCount
	flags := o.flags
	reason := o.terminationReason
	consent := o.consent
	o.mu.RUnlock()

	if reason == "" {
		reason = ReasonEnded
	}

	return models.CompletionPayload{
		CallSummary:          summary,
		WorkflowType:         o.settings.WorkflowType,
		HandoffCount:         handoffs,
		PhaseCompletionFlags: flags,
		Language:             o.settings.Language,
		Voice:                o.settings.Voice,
		TerminationReason:    reason,
		CallerMemory:         o.memory.Snapshot(),
		CallerSummary:        o.memory.RenderSummary(),
		ConfigSummary: models.ConfigSummary{
			AgentsUsed: agents,
			Language:   o.settings.Language,
			Voice:      o.settings.Voice,
		},
		RecordingConsent: consent,
		Metadata:         o.settings.Metadata,
	}
}

func (o *Orchestrator) deliver(ctx context.Context, payload models.CompletionPayload) {
	if o.notifier == nil || o.notifier.URL() == "" {
		o.logger.WithField("call_id", payload.CallID).Debug("No webhook configured, skipping completion delivery")
		return
	}

	if err := o.notifier.Send(ctx, payload); err != nil {
		o.logger.WithError(err).WithField("call_id", payload.CallID).Error("Failed to deliver completion webhook")
		return
	}

	o.logger.WithField("call_id", payload.CallID).Info("Delivered completion webhook")
}
