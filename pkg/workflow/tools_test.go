package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-call-orchestrator/pkg/memory"
	"voice-call-orchestrator/pkg/models"
	"voice-call-orchestrator/pkg/persona"
	"voice-call-orchestrator/pkg/speech"
)

func TestToolDefinitions_CoverCapabilities(t *testing.T) {
	names := make(map[string]bool)
	for _, tool := range ToolDefinitions() {
		names[tool.Name] = true
		assert.Equal(t, "object", tool.Parameters["type"])
	}

	for _, capability := range []string{
		persona.CapabilityRecordCallerInfo,
		persona.CapabilityCorrectCallerInfo,
		persona.CapabilityCategorizeCall,
		persona.CapabilityAddNote,
		persona.CapabilityTransferToSpecialist,
		persona.CapabilityEndCall,
		persona.CapabilityRecordConsent,
	} {
		assert.True(t, names[capability], capability)
	}
}

func TestOnToolCall_RecordNeverErasesFields(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator
	ctx := context.Background()

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityRecordCallerInfo, Arguments: `{"name":"Anna","email":"anna@example.com"}`})
	o.OnToolCall(ctx, speech.ToolCall{CallID: "2", Name: persona.CapabilityRecordCallerInfo, Arguments: `{"name":""}`})

	assert.Equal(t, "Anna", o.Memory().Get(memory.FieldName))
	assert.Equal(t, "anna@example.com", o.Memory().Get(memory.FieldEmail))
	assert.Contains(t, h.session.toolResult("2"), "Kontakt: Anna")
}

func TestOnToolCall_CorrectOverwrites(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator
	ctx := context.Background()
	require.NoError(t, o.Memory().Update(memory.FieldName, "Ana"))

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityCorrectCallerInfo, Arguments: `{"field":"name","value":"Anna"}`})
	assert.Equal(t, "Anna", o.Memory().Get(memory.FieldName))

	o.OnToolCall(ctx, speech.ToolCall{CallID: "2", Name: persona.CapabilityCorrectCallerInfo, Arguments: `{"field":"shoe_size","value":"42"}`})
	assert.Contains(t, h.session.toolResult("2"), "Error:")
}

func TestOnToolCall_CategorizeAdvancesPhase(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator
	ctx := context.Background()
	o.advanceTo(ctx, models.PhaseCategorizing)

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityCategorizeCall, Arguments: `{"purpose":"insurance","urgency":"high"}`})

	assert.Equal(t, "insurance", o.Memory().Get(memory.FieldPurpose))
	assert.Equal(t, memory.UrgencyHigh, o.Memory().Get(memory.FieldUrgency))
	assert.Equal(t, models.PhaseCollectingContact, o.Phase())
	assert.Equal(t, persona.InsuranceSpecialist, o.ActivePersona())

	o.OnToolCall(ctx, speech.ToolCall{CallID: "2", Name: persona.CapabilityCategorizeCall, Arguments: `{"purpose":"x","urgency":"panic"}`})
	assert.Contains(t, h.session.toolResult("2"), "Error:")
}

func TestOnToolCall_InformationGatheringDisabled(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.InformationGathering = false })
	o := h.orchestrator
	ctx := context.Background()
	o.advanceTo(ctx, models.PhaseCategorizing)

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityCategorizeCall, Arguments: `{"purpose":"solar"}`})

	assert.Equal(t, models.PhaseResolving, o.Phase())
}

func TestOnToolCall_NotAvailableToPersona(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator
	ctx := context.Background()
	require.True(t, o.OnHandoffDecision(ctx, persona.TechnicalAgent, "technical"))

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityCategorizeCall, Arguments: `{"purpose":"billing"}`})

	assert.Contains(t, h.session.toolResult("1"), "Error:")
	assert.Equal(t, "", o.Memory().Get(memory.FieldPurpose))
}

func TestOnToolCall_InvalidArguments(t *testing.T) {
	h := newHarness(t, nil)

	h.orchestrator.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityAddNote, Arguments: `{not json`})

	assert.Contains(t, h.session.toolResult("1"), "Error: invalid arguments")
}

func TestOnToolCall_AddNote(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityAddNote, Arguments: `{"note":"ring efter 16"}`})

	assert.Equal(t, []string{"ring efter 16"}, o.Memory().Notes())
}

func TestOnToolCall_TransferSubmitsResultFirst(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityTransferToSpecialist, Arguments: `{"target":"SalesAgent","reason":"wants a quote"}`})

	assert.Equal(t, persona.SalesAgent, o.ActivePersona())
	require.Len(t, o.tracker.Handoffs(), 1)
	assert.Equal(t, "wants a quote", o.tracker.Handoffs()[0].Reason)
	assert.Equal(t, []string{"tool_result", "reply"}, h.session.log)

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "2", Name: persona.CapabilityTransferToSpecialist, Arguments: `{"target":"Ghost"}`})
	assert.Contains(t, h.session.toolResult("2"), "Error:")
	assert.Equal(t, persona.SalesAgent, o.ActivePersona())
}

func TestOnToolCall_EndCall(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityEndCall})

	assert.Equal(t, models.PhaseClosing, o.Phase())
	assert.Equal(t, []string{"tool_result", "reply", "delete_room"}, h.session.log)
	assert.Equal(t, ReasonCompleted, o.Payload().TerminationReason)

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "2", Name: persona.CapabilityAddNote, Arguments: `{"note":"late"}`})
	assert.Equal(t, "", h.session.toolResult("2"), "tools are ignored once closing")
}

func TestOnToolCall_CategorizeRoutesFreeTextPurpose(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator
	ctx := context.Background()
	o.advanceTo(ctx, models.PhaseCategorizing)

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityCategorizeCall, Arguments: `{"purpose":"Fråga om hemförsäkring"}`})

	assert.Equal(t, persona.InsuranceSpecialist, o.ActivePersona())
	require.Len(t, o.tracker.Handoffs(), 1)
	assert.Contains(t, o.tracker.Handoffs()[0].Reason, "insurance")
	assert.Equal(t, []string{"tool_result", "reply"}, h.session.log)
}

func TestOnToolCall_TransferDisabled(t *testing.T) {
	h := newHarness(t, func(s *Settings) { s.Handoffs = false })
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityTransferToSpecialist, Arguments: `{"target":"SalesAgent"}`})

	assert.Contains(t, h.session.toolResult("1"), "Error:")
	assert.Equal(t, persona.PrimaryAgent, o.ActivePersona())
	assert.Empty(t, h.session.updates)
}

func consentHarness(t *testing.T, required bool) *harness {
	t.Helper()
	h := newHarness(t, func(s *Settings) {
		s.Consent = Consent{Enabled: true, Required: required}
	})
	require.NoError(t, h.orchestrator.greet(context.Background()))
	require.Equal(t, 1, h.session.replyCount())
	require.Equal(t, models.PhaseGreeting, h.orchestrator.Phase())
	return h
}

func TestConsent_GreetingAsksFirst(t *testing.T) {
	h := consentHarness(t, false)
	o := h.orchestrator
	ctx := context.Background()

	assert.Contains(t, h.session.allReplies()[0], "spela in")

	o.OnTurnEvent(ctx, userTurn("Jag har en fråga om min faktura"))
	assert.Equal(t, persona.PrimaryAgent, o.ActivePersona(), "caller turns wait for the consent answer")
	assert.Equal(t, models.PhaseGreeting, o.Phase())
}

func TestConsent_Granted(t *testing.T) {
	h := consentHarness(t, true)
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityRecordConsent, Arguments: `{"granted":true}`})

	assert.Equal(t, models.PhaseCategorizing, o.Phase())
	replies := h.session.allReplies()
	require.Len(t, replies, 2)
	assert.Contains(t, replies[1], "Inspelningen påbörjas")

	consent := o.Payload().RecordingConsent
	require.NotNil(t, consent)
	assert.True(t, *consent)
	assert.True(t, o.Payload().PhaseCompletionFlags.Greeting)
}

func TestConsent_DeclinedOptional(t *testing.T) {
	h := consentHarness(t, false)
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityRecordConsent, Arguments: `{"granted":false}`})

	assert.Equal(t, models.PhaseCategorizing, o.Phase())
	assert.Contains(t, h.session.allReplies()[1], "inte att spela in")
	consent := o.Payload().RecordingConsent
	require.NotNil(t, consent)
	assert.False(t, *consent)
	assert.Empty(t, h.controller.deletedRooms())
}

func TestConsent_DeclinedRequiredEndsCall(t *testing.T) {
	h := consentHarness(t, true)
	o := h.orchestrator

	o.OnToolCall(context.Background(), speech.ToolCall{CallID: "1", Name: persona.CapabilityRecordConsent, Arguments: `{"granted":false}`})

	assert.Equal(t, models.PhaseClosing, o.Phase())
	assert.Equal(t, ReasonConsentDenied, o.Payload().TerminationReason)
	assert.Equal(t, []string{"room-1"}, h.controller.deletedRooms())
	assert.Equal(t, []string{"reply", "tool_result", "reply", "delete_room"}, h.session.log)
}

func TestConsent_ToolErrors(t *testing.T) {
	h := newHarness(t, nil)
	o := h.orchestrator
	ctx := context.Background()

	o.OnToolCall(ctx, speech.ToolCall{CallID: "1", Name: persona.CapabilityRecordConsent, Arguments: `{"granted":true}`})
	assert.Contains(t, h.session.toolResult("1"), "Error:")
	assert.Nil(t, o.Payload().RecordingConsent)

	h = consentHarness(t, false)
	h.orchestrator.OnToolCall(ctx, speech.ToolCall{CallID: "2", Name: persona.CapabilityRecordConsent, Arguments: `{}`})
	assert.Contains(t, h.session.toolResult("2"), "Error:")
	assert.Equal(t, models.PhaseGreeting, h.orchestrator.Phase())
}
