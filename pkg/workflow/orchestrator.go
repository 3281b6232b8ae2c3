package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/callcontrol"
	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/memory"
	"voice-call-orchestrator/pkg/metrics"
	"voice-call-orchestrator/pkg/models"
	"voice-call-orchestrator/pkg/persona"
	"voice-call-orchestrator/pkg/safety"
	"voice-call-orchestrator/pkg/speech"
	"voice-call-orchestrator/pkg/teardown"
	"voice-call-orchestrator/pkg/tracker"
)

// Termination reasons reported in the completion payload
const (
	ReasonCompleted           = "completed"
	ReasonEscalationExhausted = "escalation_exhausted"
	ReasonError               = "error"
	ReasonSessionClosed       = "session_closed"
	ReasonHangup              = "hangup"
	ReasonCancelled           = "cancelled"
	ReasonDialFailed          = "dial_failed"
	ReasonConsentDenied       = "consent_denied"
	ReasonCallerDisconnected  = "caller_disconnected"
	ReasonRoomFinished        = "room_finished"
	ReasonEnded               = "ended"
)

const eventBufferSize = 256

var ErrMissingDestination = errors.New("outbound call requires a phone number")

// Notifier delivers the completion payload
type Notifier interface {
	Send(ctx context.Context, payload any) error
	URL() string
}

// PhaseRecorder mirrors phase changes to shared storage
type PhaseRecorder interface {
	SetPhase(ctx context.Context, callID string, phase models.Phase) error
}

// Orchestrator drives one call through its phases. It owns the active
// persona, the handoff count, the caller memory, the conversation log and
// the safety monitor for that call.
type Orchestrator struct {
	session    speech.Session
	controller callcontrol.Controller
	catalog    *persona.Catalog
	notifier   Notifier
	phases     PhaseRecorder
	settings   Settings
	lines      lines
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	tracker  *tracker.ConversationTracker
	memory   *memory.CallerMemory
	monitor  *safety.Monitor
	teardown *teardown.Teardown

	events       chan event
	done         chan struct{}
	finalizeOnce sync.Once

	mu                sync.RWMutex
	active            *persona.Persona
	handoffCount      int
	phase             models.Phase
	flags             models.PhaseCompletion
	terminationReason string
	closed            bool
	consentPending    bool
	consent           *bool
}

// NewOrchestrator builds the orchestrator for one call. notifier and phases
// may be nil.
func NewOrchestrator(
	session speech.Session,
	controller callcontrol.Controller,
	catalog *persona.Catalog,
	notifier Notifier,
	phases PhaseRecorder,
	settings Settings,
	logger *logrus.Logger,
	metrics *metrics.Metrics,
) (*Orchestrator, error) {
	if settings.Direction == DirectionOutbound && settings.PhoneNumber == "" {
		return nil, ErrMissingDestination
	}

	initial, err := catalog.Build(settings.InitialPersona)
	if err != nil {
		return nil, fmt.Errorf("failed to build initial persona: %w", err)
	}

	if settings.ReplyTimeout <= 0 {
		settings.ReplyTimeout = constants.SecondsToDuration(constants.DefaultReplyTimeoutSeconds)
	}
	if settings.MaxHandoffs < 0 {
		settings.MaxHandoffs = 0
	}

	callTracker := tracker.NewConversationTracker(settings.CallID, logger)
	settings.CallID = callTracker.CallID()

	o := &Orchestrator{
		session:    session,
		controller: controller,
		catalog:    catalog,
		notifier:   notifier,
		phases:     phases,
		settings:   settings,
		lines:      linesFor(settings.Language),
		logger:     logger,
		metrics:    metrics,
		tracker:    callTracker,
		memory:     memory.New(settings.Language),
		events:     make(chan event, eventBufferSize),
		done:       make(chan struct{}),
		active:     initial,
		phase:      models.PhaseGreeting,
	}

	o.monitor = safety.NewMonitor(settings.Safety, safety.TerminatorFunc(o.terminate), logger, metrics)

	var rooms teardown.RoomDeleter
	if controller != nil {
		rooms = controller
	}
	o.teardown = teardown.New(session, rooms, teardown.Config{
		CallID:          settings.CallID,
		Room:            settings.Room,
		FarewellTimeout: settings.FarewellTimeout,
	}, logger, metrics)

	return o, nil
}

func (o *Orchestrator) CallID() string {
	return o.settings.CallID
}

func (o *Orchestrator) Room() string {
	return o.settings.Room
}

// Done is closed once the call has been finalized
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) Phase() models.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

func (o *Orchestrator) ActivePersona() string {
	return o.activePersona().Name()
}

func (o *Orchestrator) HandoffCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.handoffCount
}

// Memory exposes the caller memory for inspection
func (o *Orchestrator) Memory() *memory.CallerMemory {
	return o.memory
}

func (o *Orchestrator) activePersona() *persona.Persona {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// Status returns a point-in-time snapshot of the call
func (o *Orchestrator) Status() models.CallStatus {
	summary := o.memory.RenderSummary()
	duration := o.tracker.Duration()

	o.mu.RLock()
	defer o.mu.RUnlock()

	return models.CallStatus{
		CallID:          o.settings.CallID,
		Room:            o.settings.Room,
		Phase:           o.phase,
		ActivePersona:   o.active.Name(),
		HandoffCount:    o.handoffCount,
		DurationSeconds: duration.Seconds(),
		CallerSummary:   summary,
		StartedAt:       o.tracker.StartTime(),
		Closed:          o.closed,
	}
}

// Hangup asks the call to end without a farewell. It does not block.
func (o *Orchestrator) Hangup(reason string) {
	if reason == "" {
		reason = ReasonHangup
	}
	o.dispatch(endEvent{reason: reason})
}

// Run drives the call until it closes. The completion payload is always
// delivered before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.metrics.ActiveCalls.Inc()
	o.metrics.CallsStarted.WithLabelValues(string(o.settings.Direction)).Inc()
	defer o.metrics.ActiveCalls.Dec()

	defer o.Finalize(context.WithoutCancel(ctx))
	defer o.closeSession()
	defer o.monitor.Stop()

	log := o.logger.WithFields(logrus.Fields{
		"call_id":   o.settings.CallID,
		"room":      o.settings.Room,
		"direction": o.settings.Direction,
		"persona":   o.ActivePersona(),
	})
	log.Info("Starting call")

	o.registerCallbacks()

	if err := o.session.Connect(ctx); err != nil {
		o.fail(ctx, "connect", err)
		return fmt.Errorf("failed to connect speech session: %w", err)
	}

	if o.settings.Direction == DirectionOutbound {
		if err := o.dial(ctx); err != nil {
			o.closeCall(context.WithoutCancel(ctx), ReasonDialFailed, "")
			return err
		}
	}

	if err := o.session.Start(ctx, o.activePersona()); err != nil {
		o.fail(ctx, "start", err)
		return fmt.Errorf("failed to start speech session: %w", err)
	}

	o.monitor.Start(ctx)

	if err := o.greet(ctx); err != nil {
		o.fail(ctx, "greeting", err)
		return err
	}

	return o.loop(ctx)
}

func (o *Orchestrator) dial(ctx context.Context) error {
	if o.controller == nil {
		return errors.New("no call controller configured for outbound call")
	}

	participant, err := o.controller.CreateSIPParticipant(ctx, o.settings.SIPTrunkID, o.settings.PhoneNumber, o.settings.Room)
	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": o.settings.CallID,
			"room":    o.settings.Room,
		}).Error("Failed to dial outbound call")
		return fmt.Errorf("failed to dial outbound call: %w", err)
	}

	if err := o.memory.Update(memory.FieldPhone, o.settings.PhoneNumber); err != nil {
		o.logger.WithError(err).Warn("Failed to store destination phone")
	}

	o.logger.WithFields(logrus.Fields{
		"call_id":        o.settings.CallID,
		"participant_id": participant.ID,
		"sip_call_id":    participant.SIPCallID,
	}).Info("Outbound call answered")
	return nil
}

func (o *Orchestrator) greet(ctx context.Context) error {
	if o.settings.Consent.Enabled {
		o.mu.Lock()
		o.consentPending = true
		o.mu.Unlock()
		return o.say(ctx, "consent_request", o.lines.say(o.lines.consentRequest))
	}

	line := o.settings.FirstMessage
	if line == "" {
		line = o.lines.greeting
	}
	if err := o.say(ctx, "greeting", o.lines.say(line)); err != nil {
		return err
	}
	o.advanceTo(ctx, models.PhaseCategorizing)
	return nil
}

// say sends one reply and waits for it up to the reply timeout. Only a
// failure to send is an error.
func (o *Orchestrator) say(ctx context.Context, kind, instructions string) error {
	if instructions == "" {
		return nil
	}

	replyCtx, cancel := context.WithTimeout(ctx, o.settings.ReplyTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		o.metrics.ReplyWaitDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	handle, err := o.session.GenerateReply(replyCtx, instructions)
	if err != nil {
		return fmt.Errorf("failed to send %s reply: %w", kind, err)
	}
	if err := handle.Wait(replyCtx); err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"call_id": o.settings.CallID,
			"kind":    kind,
		}).Warn("Reply did not complete")
	}
	return nil
}

// OnTurnEvent records a committed turn. Caller turns also count as activity
// and are evaluated for completion, escalation, handoff and categorization.
func (o *Orchestrator) OnTurnEvent(ctx context.Context, turn models.ConversationTurn) {
	active := o.activePersona()
	if turn.Persona == "" {
		turn.Persona = active.Name()
	}
	o.tracker.Record(turn.Role, turn.Content, turn.Persona, turn.Timestamp)

	if turn.Role != models.RoleUser {
		return
	}
	o.monitor.NoteActivity()
	o.evaluate(ctx, turn.Content)
}

func (o *Orchestrator) evaluate(ctx context.Context, text string) {
	phase := o.Phase()
	if phase == models.PhaseClosing || o.awaitingConsent() {
		return
	}

	if phase >= models.PhaseResolving && o.settings.CompletionSignals.Matches(text) {
		o.closeCall(ctx, ReasonCompleted, o.lines.closingFor(o.memory))
		return
	}

	if o.settings.EscalationSignals.Matches(text) {
		o.escalate(ctx)
		return
	}

	if decision, ok := o.activePersona().DecideHandoff(text, phase); ok {
		o.OnHandoffDecision(ctx, decision.Target, decision.Reason)
	}

	if phase == models.PhaseCategorizing {
		if category, ok := o.categorize(text); ok {
			o.route(ctx, category)
		}
	}
	o.maybeAdvance(ctx)
}

func (o *Orchestrator) escalate(ctx context.Context) {
	if decision, ok := o.activePersona().TargetFor(persona.EscalationCategory); ok {
		if o.OnHandoffDecision(ctx, decision.Target, decision.Reason) {
			return
		}
	}
	if o.Phase() == models.PhaseClosing {
		return
	}

	o.logger.WithFields(logrus.Fields{
		"call_id": o.settings.CallID,
		"persona": o.ActivePersona(),
	}).Info("Escalation path exhausted, closing call")
	o.closeCall(ctx, ReasonEscalationExhausted, o.lines.say(o.lines.escalation))
}

// categorize stores the call purpose and urgency detected in text. It
// returns the category when this utterance set the purpose.
func (o *Orchestrator) categorize(text string) (string, bool) {
	if o.settings.UrgencySignals.Matches(text) {
		_ = o.memory.Update(memory.FieldUrgency, memory.UrgencyHigh)
	}
	if o.settings.Categorizer == nil || o.memory.Get(memory.FieldPurpose) != "" {
		return "", false
	}
	category, ok := o.settings.Categorizer.Match(text)
	if !ok {
		return "", false
	}
	_ = o.memory.Update(memory.FieldPurpose, category)
	return category, true
}

// route hands a newly categorized call to the specialist configured for its
// category. Only the initial persona routes, so a keyword handoff earlier in
// the same turn takes precedence.
func (o *Orchestrator) route(ctx context.Context, category string) {
	key := strings.ToLower(strings.TrimSpace(category))
	target, ok := o.settings.CategoryRoutes[key]
	if !ok && o.settings.Categorizer != nil {
		if matched, found := o.settings.Categorizer.Match(category); found {
			key = matched
			target, ok = o.settings.CategoryRoutes[matched]
		}
	}
	if !ok || o.ActivePersona() != o.settings.InitialPersona {
		return
	}
	if !o.catalog.Has(target) {
		o.logger.WithFields(logrus.Fields{
			"call_id":  o.settings.CallID,
			"category": key,
			"target":   target,
		}).Debug("No specialist persona for category")
		return
	}
	o.OnHandoffDecision(ctx, target, "specialist consultation for "+key)
}

// OnHandoffDecision switches the active persona to target. It reports
// whether the handoff happened; requests past the handoff bound, for
// unknown targets or while closing are logged and ignored.
func (o *Orchestrator) OnHandoffDecision(ctx context.Context, target, reason string) bool {
	o.mu.RLock()
	current := o.active
	count := o.handoffCount
	phase := o.phase
	o.mu.RUnlock()

	log := o.logger.WithFields(logrus.Fields{
		"call_id": o.settings.CallID,
		"from":    current.Name(),
		"to":      target,
		"reason":  reason,
	})

	switch {
	case phase == models.PhaseClosing:
		o.metrics.Handoffs.WithLabelValues("ignored_closing").Inc()
		log.Debug("Ignoring handoff while closing")
		return false
	case !o.settings.Handoffs:
		o.metrics.Handoffs.WithLabelValues("ignored_disabled").Inc()
		log.WithField("workflow_type", o.settings.WorkflowType).Debug("Handoffs disabled for workflow")
		return false
	case count >= o.settings.MaxHandoffs:
		o.metrics.Handoffs.WithLabelValues("ignored_limit").Inc()
		log.WithField("max_handoffs", o.settings.MaxHandoffs).Warn("Handoff limit reached, ignoring handoff")
		return false
	case target == current.Name():
		o.metrics.Handoffs.WithLabelValues("ignored_self").Inc()
		log.Debug("Ignoring handoff to active persona")
		return false
	}

	next, err := o.catalog.Build(target)
	if err != nil {
		o.metrics.Handoffs.WithLabelValues("ignored_unknown").Inc()
		log.WithError(err).Warn("Ignoring handoff to unknown persona")
		return false
	}

	if err := o.session.UpdateAgent(ctx, next, o.settings.PreserveContext); err != nil {
		o.metrics.Handoffs.WithLabelValues("failed").Inc()
		o.fail(ctx, "handoff", err)
		return false
	}

	// The safety monitor may have started closing during the update
	o.mu.Lock()
	if o.phase == models.PhaseClosing {
		o.mu.Unlock()
		o.metrics.Handoffs.WithLabelValues("ignored_closing").Inc()
		log.Debug("Call closed during handoff, not switching persona")
		return false
	}
	previous := o.active
	o.active = next
	o.handoffCount++
	o.mu.Unlock()

	o.tracker.RecordHandoff(previous.Name(), next.Name(), reason)
	o.metrics.Handoffs.WithLabelValues("completed").Inc()
	log.WithField("preserve_context", o.settings.PreserveContext).Info("Handed off call")

	if err := o.say(ctx, "handoff_intro", next.OnActivate()); err != nil {
		o.fail(ctx, "handoff_intro", err)
	}
	return true
}

func (o *Orchestrator) awaitingConsent() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.consentPending
}

// resolveConsent continues the call after the caller answered the consent
// request. A declined required consent ends the call.
func (o *Orchestrator) resolveConsent(ctx context.Context, granted bool) {
	o.logger.WithFields(logrus.Fields{
		"call_id":  o.settings.CallID,
		"granted":  granted,
		"required": o.settings.Consent.Required,
	}).Info("Recording consent answered")

	if !granted && o.settings.Consent.Required {
		o.closeCall(ctx, ReasonConsentDenied, o.lines.say(o.lines.consentEnd))
		return
	}

	line := o.lines.consentGranted
	if !granted {
		line = o.lines.consentDeclined
	}
	if err := o.say(ctx, "consent_answer", o.lines.say(line)); err != nil {
		o.fail(ctx, "consent", err)
		return
	}
	o.advanceTo(ctx, models.PhaseCategorizing)
}

// maybeAdvance moves forward through every phase whose exit condition holds
func (o *Orchestrator) maybeAdvance(ctx context.Context) {
	for {
		switch o.Phase() {
		case models.PhaseCategorizing:
			if o.memory.Get(memory.FieldPurpose) == "" {
				return
			}
			o.advanceTo(ctx, models.PhaseCollectingContact)
		case models.PhaseCollectingContact:
			if o.settings.InformationGathering && !o.memory.HasContact(o.settings.RequiredFields) {
				return
			}
			o.advanceTo(ctx, models.PhaseResolving)
		default:
			return
		}
	}
}

// advanceTo moves the phase forward. Backward or repeated moves are ignored.
// Only a single step forward marks the phase being left as completed.
func (o *Orchestrator) advanceTo(ctx context.Context, next models.Phase) bool {
	o.mu.Lock()
	previous := o.phase
	if next <= previous {
		o.mu.Unlock()
		return false
	}
	if next == previous+1 {
		switch previous {
		case models.PhaseGreeting:
			o.flags.Greeting = true
		case models.PhaseCategorizing:
			o.flags.Categorization = true
		case models.PhaseCollectingContact:
			o.flags.ContactCollection = true
		}
	}
	switch next {
	case models.PhaseResolving:
		o.flags.ConsultationOffered = true
	case models.PhaseClosing:
		o.flags.Closing = true
	}
	o.phase = next
	o.mu.Unlock()

	o.metrics.PhaseTransitions.WithLabelValues(next.String()).Inc()
	o.logger.WithFields(logrus.Fields{
		"call_id": o.settings.CallID,
		"from":    previous.String(),
		"to":      next.String(),
	}).Info("Call phase advanced")

	if o.phases != nil {
		if err := o.phases.SetPhase(ctx, o.settings.CallID, next); err != nil {
			o.logger.WithError(err).WithField("call_id", o.settings.CallID).Warn("Failed to record call phase")
		}
	}
	return true
}

// closeCall enters closing, speaks line (if any) and ends the call. The
// first reason given wins and the teardown runs at most once.
func (o *Orchestrator) closeCall(ctx context.Context, reason, line string) {
	o.mu.Lock()
	if o.terminationReason == "" {
		o.terminationReason = reason
	}
	o.mu.Unlock()

	o.advanceTo(ctx, models.PhaseClosing)

	if err := o.teardown.Run(ctx, line); err != nil {
		o.logger.WithError(err).WithField("call_id", o.settings.CallID).Error("Failed to end call")
	}
}

// fail converts a collaborator error into an apology followed by teardown
func (o *Orchestrator) fail(ctx context.Context, step string, err error) {
	o.logger.WithError(err).WithFields(logrus.Fields{
		"call_id": o.settings.CallID,
		"step":    step,
		"phase":   o.Phase().String(),
	}).Error("Call workflow step failed")

	o.closeCall(context.WithoutCancel(ctx), ReasonError, o.lines.say(o.lines.apology))
}

// terminate is the safety monitor's graceful end
func (o *Orchestrator) terminate(ctx context.Context, reason safety.Reason) {
	o.closeCall(ctx, string(reason), o.lines.say(o.lines.farewell))
	o.dispatch(endEvent{reason: string(reason)})
}

func (o *Orchestrator) closeSession() {
	if err := o.session.Close(); err != nil {
		o.logger.WithError(err).WithField("call_id", o.settings.CallID).Debug("Failed to close speech session")
	}
}
