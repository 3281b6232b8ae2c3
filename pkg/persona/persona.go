package persona

import (
	"strings"

	"voice-call-orchestrator/pkg/models"
)

// EscalationCategory is the trigger category used for escalation signals
const EscalationCategory = "escalation"

// Trigger hands off to Target when any of Keywords occurs in a caller utterance
type Trigger struct {
	Category string   `yaml:"category" json:"category"`
	Target   string   `yaml:"target" json:"target"`
	Reason   string   `yaml:"reason" json:"reason"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Decision is the outcome of a positive handoff check
type Decision struct {
	Target   string
	Reason   string
	Category string
}

// Persona is an immutable conversational configuration active on a call
type Persona struct {
	name         string
	voice        string
	language     string
	instructions string
	intro        string
	capabilities []string
	triggers     []Trigger
}

func (p *Persona) Name() string         { return p.name }
func (p *Persona) Voice() string        { return p.voice }
func (p *Persona) Language() string     { return p.language }
func (p *Persona) Instructions() string { return p.instructions }

func (p *Persona) Capabilities() []string {
	return append([]string(nil), p.capabilities...)
}

func (p *Persona) HasCapability(name string) bool {
	for _, capability := range p.capabilities {
		if capability == name {
			return true
		}
	}
	return false
}

// DecideHandoff checks the latest caller utterance against this persona's
// triggers, in priority order. Closing calls never hand off.
func (p *Persona) DecideHandoff(utterance string, phase models.Phase) (Decision, bool) {
	if phase == models.PhaseClosing || strings.TrimSpace(utterance) == "" {
		return Decision{}, false
	}
	lowered := strings.ToLower(utterance)
	for _, trigger := range p.triggers {
		if trigger.Target == "" || trigger.Target == p.name {
			continue
		}
		if containsAny(lowered, trigger.Keywords) {
			return Decision{Target: trigger.Target, Reason: trigger.Reason, Category: trigger.Category}, true
		}
	}
	return Decision{}, false
}

// TargetFor returns the handoff target configured for a category
func (p *Persona) TargetFor(category string) (Decision, bool) {
	for _, trigger := range p.triggers {
		if trigger.Category == category && trigger.Target != "" && trigger.Target != p.name {
			return Decision{Target: trigger.Target, Reason: trigger.Reason, Category: trigger.Category}, true
		}
	}
	return Decision{}, false
}

// OnActivate returns the single reply instruction that introduces the persona
func (p *Persona) OnActivate() string {
	return p.intro
}
