package workflow

import (
	"time"

	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/memory"
	"voice-call-orchestrator/pkg/persona"
	"voice-call-orchestrator/pkg/safety"
)

// Direction says who placed the call
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Settings is the per-call configuration handed to an orchestrator. It is
// built once from the workflow document and never consulted again.
type Settings struct {
	CallID      string
	Room        string
	Direction   Direction
	PhoneNumber string
	SIPTrunkID  string

	WorkflowType   string
	Language       string
	Voice          string
	FirstMessage   string
	InitialPersona string

	Handoffs             bool
	MaxHandoffs          int
	PreserveContext      bool
	InformationGathering bool
	RequiredFields       []memory.Field
	Consent              Consent

	Categorizer       *persona.Matcher
	CategoryRoutes    map[string]string
	CompletionSignals persona.Signals
	EscalationSignals persona.Signals
	UrgencySignals    persona.Signals

	Safety          safety.Config
	FarewellTimeout time.Duration
	ReplyTimeout    time.Duration

	Metadata map[string]string
}

// Consent controls the recording consent request made before the greeting
type Consent struct {
	Enabled  bool
	Required bool
}

// NewSettings resolves every workflow default. Call identity fields (CallID,
// Room, Direction, PhoneNumber, SIPTrunkID) are left for the caller to fill.
func NewSettings(w *config.Workflow) Settings {
	return Settings{
		Direction:            DirectionInbound,
		WorkflowType:         w.Type(),
		Language:             w.LanguageOrDefault(),
		Voice:                w.VoiceOrDefault(),
		FirstMessage:         w.FirstMessage,
		InitialPersona:       w.InitialPersonaName(),
		Handoffs:             w.HandoffsEnabled(),
		MaxHandoffs:          w.MaxHandoffs(),
		PreserveContext:      w.PreserveContext(),
		InformationGathering: w.InformationGatheringEnabled(),
		RequiredFields:       w.RequiredFields(),
		Consent:              Consent{Enabled: w.ConsentEnabled(), Required: w.ConsentRequired()},
		Categorizer:          persona.NewMatcher(w.CallCategories()),
		CategoryRoutes:       w.CategoryRoutes(),
		CompletionSignals:    w.CompletionSignalSet(),
		EscalationSignals:    w.EscalationSignalSet(),
		UrgencySignals:       w.UrgencySignalSet(),
		Safety: safety.Config{
			Enabled:           w.SafetyEnabled(),
			MaxDuration:       w.MaxCallDuration(),
			InactivityTimeout: w.InactivityTimeout(),
			PollInterval:      w.SafetyPollInterval(),
		},
		FarewellTimeout: w.FarewellTimeout(),
		ReplyTimeout:    constants.SecondsToDuration(constants.DefaultReplyTimeoutSeconds),
	}
}
