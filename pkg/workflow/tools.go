package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/memory"
	"voice-call-orchestrator/pkg/models"
	"voice-call-orchestrator/pkg/persona"
	"voice-call-orchestrator/pkg/speech"
)

func stringProperty(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolDefinitions describes every persona capability as a function tool
func ToolDefinitions() []speech.FunctionTool {
	return []speech.FunctionTool{
		{
			Name:        persona.CapabilityRecordCallerInfo,
			Description: "Record contact details the caller has given. Only pass fields that were actually stated.",
			Parameters: objectSchema(map[string]any{
				"name":  stringProperty("Caller's full name"),
				"phone": stringProperty("Caller's phone number"),
				"email": stringProperty("Caller's email address"),
			}),
		},
		{
			Name:        persona.CapabilityCorrectCallerInfo,
			Description: "Overwrite a previously recorded detail after the caller corrects it.",
			Parameters: objectSchema(map[string]any{
				"field": map[string]any{
					"type": "string",
					"enum": []string{"name", "phone", "email", "purpose", "urgency", "notes"},
				},
				"value": stringProperty("Corrected value; empty clears the field"),
			}, "field", "value"),
		},
		{
			Name:        persona.CapabilityCategorizeCall,
			Description: "Record why the caller is calling and how urgent it is.",
			Parameters: objectSchema(map[string]any{
				"purpose": stringProperty("Short description or category of the caller's need"),
				"urgency": map[string]any{
					"type": "string",
					"enum": []string{memory.UrgencyNormal, memory.UrgencyHigh},
				},
			}, "purpose"),
		},
		{
			Name:        persona.CapabilityAddNote,
			Description: "Add a free-text note about the call.",
			Parameters:  objectSchema(map[string]any{"note": stringProperty("The note")}, "note"),
		},
		{
			Name:        persona.CapabilityTransferToSpecialist,
			Description: "Hand the call to another specialist persona.",
			Parameters: objectSchema(map[string]any{
				"target": stringProperty("Name of the persona to transfer to"),
				"reason": stringProperty("Why the caller needs the specialist"),
			}, "target"),
		},
		{
			Name:        persona.CapabilityRecordConsent,
			Description: "Record the caller's answer to the call recording consent question.",
			Parameters: objectSchema(map[string]any{
				"granted": map[string]any{
					"type":        "boolean",
					"description": "True if the caller agreed to recording",
				},
			}, "granted"),
		},
		{
			Name:        persona.CapabilityEndCall,
			Description: "End the call politely once the caller has nothing more to discuss.",
			Parameters:  objectSchema(map[string]any{}),
		},
	}
}

type toolArguments struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Purpose string `json:"purpose"`
	Urgency string `json:"urgency"`
	Note    string `json:"note"`
	Target  string `json:"target"`
	Reason  string `json:"reason"`
	Granted *bool  `json:"granted"`
}

// toolOutcome is submitted to the session before after runs, so the engine
// has its result before the call changes persona or ends
type toolOutcome struct {
	output string
	err    error
	after  func(ctx context.Context)
}

// OnToolCall executes a function call requested by the speech engine and
// submits its result
func (o *Orchestrator) OnToolCall(ctx context.Context, call speech.ToolCall) {
	if o.Phase() == models.PhaseClosing {
		return
	}
	o.monitor.NoteActivity()

	outcome := o.runTool(ctx, call)

	log := o.logger.WithFields(logrus.Fields{
		"call_id": o.settings.CallID,
		"tool":    call.Name,
		"persona": o.ActivePersona(),
	})
	status := "ok"
	if outcome.err != nil {
		status = "error"
		log.WithError(outcome.err).Warn("Tool call failed")
	} else {
		log.Debug("Tool call handled")
	}
	o.metrics.ToolCalls.WithLabelValues(call.Name, status).Inc()

	if err := o.session.SubmitToolResult(ctx, call.CallID, outcome.output); err != nil {
		o.fail(ctx, "tool_result", err)
		return
	}
	if outcome.after != nil {
		outcome.after(ctx)
	}
}

func (o *Orchestrator) runTool(ctx context.Context, call speech.ToolCall) toolOutcome {
	if !o.activePersona().HasCapability(call.Name) {
		return o.toolError(fmt.Errorf("tool %q is not available", call.Name))
	}

	var args toolArguments
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return o.toolError(fmt.Errorf("invalid arguments: %w", err))
		}
	}

	switch call.Name {
	case persona.CapabilityRecordCallerInfo:
		for field, value := range map[memory.Field]string{
			memory.FieldName:  args.Name,
			memory.FieldPhone: args.Phone,
			memory.FieldEmail: args.Email,
		} {
			if err := o.memory.Update(field, value); err != nil {
				return o.toolError(err)
			}
		}
		o.maybeAdvance(ctx)
		return o.toolOK("Recorded.")

	case persona.CapabilityCorrectCallerInfo:
		field, err := memory.ParseField(args.Field)
		if err != nil {
			return o.toolError(err)
		}
		if err := o.memory.Correct(field, args.Value); err != nil {
			return o.toolError(err)
		}
		o.maybeAdvance(ctx)
		return o.toolOK("Corrected.")

	case persona.CapabilityCategorizeCall:
		if args.Purpose == "" {
			return o.toolError(fmt.Errorf("purpose is required"))
		}
		if err := o.memory.Update(memory.FieldUrgency, args.Urgency); err != nil {
			return o.toolError(err)
		}
		if err := o.memory.Update(memory.FieldPurpose, args.Purpose); err != nil {
			return o.toolError(err)
		}
		o.maybeAdvance(ctx)
		outcome := o.toolOK("Categorized.")
		outcome.after = func(ctx context.Context) {
			o.route(ctx, args.Purpose)
		}
		return outcome

	case persona.CapabilityAddNote:
		if err := o.memory.Update(memory.FieldNotes, args.Note); err != nil {
			return o.toolError(err)
		}
		return o.toolOK("Noted.")

	case persona.CapabilityTransferToSpecialist:
		if !o.settings.Handoffs {
			return o.toolError(fmt.Errorf("transfers are not available in this workflow"))
		}
		if args.Target == "" {
			return o.toolError(fmt.Errorf("target is required"))
		}
		if !o.catalog.Has(args.Target) {
			return o.toolError(fmt.Errorf("unknown specialist %q", args.Target))
		}
		reason := args.Reason
		if reason == "" {
			reason = "transfer requested"
		}
		outcome := o.toolOK("Transferring.")
		outcome.after = func(ctx context.Context) {
			o.OnHandoffDecision(ctx, args.Target, reason)
		}
		return outcome

	case persona.CapabilityRecordConsent:
		if args.Granted == nil {
			return o.toolError(fmt.Errorf("granted is required"))
		}
		granted := *args.Granted
		o.mu.Lock()
		pending := o.consentPending
		if pending {
			o.consentPending = false
			o.consent = &granted
		}
		o.mu.Unlock()
		if !pending {
			return o.toolError(fmt.Errorf("no consent question is pending"))
		}
		outcome := o.toolOK("Consent recorded.")
		outcome.after = func(ctx context.Context) {
			o.resolveConsent(ctx, granted)
		}
		return outcome

	case persona.CapabilityEndCall:
		outcome := o.toolOK("Ending call.")
		outcome.after = func(ctx context.Context) {
			o.closeCall(ctx, ReasonCompleted, o.lines.closingFor(o.memory))
		}
		return outcome
	}

	return o.toolError(fmt.Errorf("unknown tool %q", call.Name))
}

func (o *Orchestrator) toolOK(message string) toolOutcome {
	return toolOutcome{output: message + "\n" + o.memory.RenderSummary()}
}

func (o *Orchestrator) toolError(err error) toolOutcome {
	return toolOutcome{output: "Error: " + err.Error(), err: err}
}
