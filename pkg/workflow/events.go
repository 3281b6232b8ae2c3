package workflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/models"
	"voice-call-orchestrator/pkg/speech"
)

// Session callbacks only build one of these values and hand it to the event
// loop; all call state is mutated from the loop.
type event interface {
	isEvent()
}

type turnEvent struct {
	turn models.ConversationTurn
}

type transcriptEvent struct {
	transcript speech.Transcript
}

type toolCallEvent struct {
	call speech.ToolCall
}

type endEvent struct {
	reason string
	err    error
}

func (turnEvent) isEvent()       {}
func (transcriptEvent) isEvent() {}
func (toolCallEvent) isEvent()   {}
func (endEvent) isEvent()        {}

func (o *Orchestrator) registerCallbacks() {
	o.session.OnConversationItemAdded(func(item speech.ConversationItem) {
		o.dispatch(turnEvent{turn: models.ConversationTurn{
			Role:      item.Role,
			Content:   item.Text,
			Timestamp: item.CreatedAt,
		}})
	})
	o.session.OnUserInputTranscribed(func(transcript speech.Transcript) {
		o.dispatch(transcriptEvent{transcript: transcript})
	})
	o.session.OnToolCall(func(call speech.ToolCall) {
		o.dispatch(toolCallEvent{call: call})
	})
	o.session.OnClosed(func(err error) {
		o.dispatch(endEvent{reason: ReasonSessionClosed, err: err})
	})
}

// dispatch never blocks the caller. When the buffer is full the event is
// handed to a goroutine that gives up once the call is finalized.
func (o *Orchestrator) dispatch(ev event) {
	select {
	case o.events <- ev:
		return
	case <-o.done:
		return
	default:
	}

	go func() {
		select {
		case o.events <- ev:
		case <-o.done:
			o.metrics.OrchestratorEventsDrops.Inc()
		}
	}()
}

// loop processes events until the call reaches closing or ctx ends
func (o *Orchestrator) loop(ctx context.Context) error {
	for o.Phase() != models.PhaseClosing {
		select {
		case <-ctx.Done():
			o.closeCall(context.WithoutCancel(ctx), ReasonCancelled, "")
			return ctx.Err()
		case ev := <-o.events:
			o.handle(ctx, ev)
		}
	}
	return nil
}

func (o *Orchestrator) handle(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, "event_handling", fmt.Errorf("panic: %v", r))
		}
	}()

	switch e := ev.(type) {
	case turnEvent:
		o.OnTurnEvent(ctx, e.turn)
	case transcriptEvent:
		o.monitor.NoteActivity()
	case toolCallEvent:
		o.OnToolCall(ctx, e.call)
	case endEvent:
		entry := o.logger.WithFields(logrus.Fields{
			"call_id": o.settings.CallID,
			"reason":  e.reason,
		})
		if e.err != nil {
			entry = entry.WithError(e.err)
		}
		entry.Info("Call ended externally")
		o.closeCall(ctx, e.reason, "")
	}
}
