package models

import (
	"fmt"
	"time"
)

// Role identifies who produced a conversation turn
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// ParseRole maps speech-engine role names onto the tracker roles.
// "assistant" is the realtime API's name for the agent.
func ParseRole(raw string) Role {
	switch raw {
	case "user":
		return RoleUser
	case "assistant", "agent":
		return RoleAgent
	case "system":
		return RoleSystem
	default:
		return Role(raw)
	}
}

// ConversationTurn is one utterance or system note in a call
type ConversationTurn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Persona   string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HandoffRecord is appended once per successful persona switch
type HandoffRecord struct {
	FromPersona string    `json:"from_agent"`
	ToPersona   string    `json:"to_agent"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// Phase is the coarse stage of a call
type Phase int

const (
	PhaseGreeting Phase = iota
	PhaseCategorizing
	PhaseCollectingContact
	PhaseResolving
	PhaseClosing
)

var phaseNames = map[Phase]string{
	PhaseGreeting:          "greeting",
	PhaseCategorizing:      "categorizing",
	PhaseCollectingContact: "collecting_contact",
	PhaseResolving:         "resolving",
	PhaseClosing:           "closing",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(text))
}

// CallSummary is the tracker's view of a finished (or running) call
type CallSummary struct {
	CallID          string             `json:"call_id"`
	DurationSeconds float64            `json:"duration_seconds"`
	Conversation    []ConversationTurn `json:"conversation"`
	Handoffs        []HandoffRecord    `json:"handoffs"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
}

// PhaseCompletion flags which phases a call got through
type PhaseCompletion struct {
	Greeting            bool `json:"greeting"`
	Categorization      bool `json:"categorization"`
	ContactCollection   bool `json:"contact_collection"`
	ConsultationOffered bool `json:"consultation_offered"`
	Closing             bool `json:"closing"`
}

// ConfigSummary is the slice of configuration echoed back in the webhook
type ConfigSummary struct {
	AgentsUsed []string `json:"agents_used"`
	Language   string   `json:"language"`
	Voice      string   `json:"voice"`
}

// CompletionPayload is the body posted to the completion webhook
type CompletionPayload struct {
	CallSummary
	WorkflowType         string            `json:"workflow_type"`
	HandoffCount         int               `json:"handoff_count"`
	PhaseCompletionFlags PhaseCompletion   `json:"phase_completion_flags"`
	Language             string            `json:"language"`
	Voice                string            `json:"voice"`
	TerminationReason    string            `json:"termination_reason,omitempty"`
	CallerMemory         map[string]any    `json:"caller_memory"`
	CallerSummary        string            `json:"caller_summary"`
	ConfigSummary        ConfigSummary     `json:"config_summary"`
	RecordingConsent     *bool             `json:"recording_consent,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// CallStatus is a point-in-time snapshot of a running call
type CallStatus struct {
	CallID          string    `json:"call_id"`
	Room            string    `json:"room"`
	Phase           Phase     `json:"phase"`
	ActivePersona   string    `json:"active_persona"`
	HandoffCount    int       `json:"handoff_count"`
	DurationSeconds float64   `json:"duration_seconds"`
	CallerSummary   string    `json:"caller_summary"`
	StartedAt       time.Time `json:"started_at"`
	Closed          bool      `json:"closed"`
}

// OutboundCallRequest starts a call to a phone number
type OutboundCallRequest struct {
	PhoneNumber string            `json:"phone_number"`
	Room        string            `json:"room,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
