package persona

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownPersona = errors.New("unknown persona")

// Capabilities a persona can expose to the speech engine as function tools
const (
	CapabilityRecordCallerInfo     = "record_caller_info"
	CapabilityCorrectCallerInfo    = "correct_caller_info"
	CapabilityCategorizeCall       = "categorize_call"
	CapabilityAddNote              = "add_note"
	CapabilityTransferToSpecialist = "transfer_to_specialist"
	CapabilityEndCall              = "end_call"
	CapabilityRecordConsent        = "record_consent"
)

// Definition is the configured shape of a persona
type Definition struct {
	Name         string    `yaml:"name" json:"name"`
	Voice        string    `yaml:"voice" json:"voice"`
	Language     string    `yaml:"language" json:"language"`
	Instructions string    `yaml:"instructions" json:"instructions"`
	Intro        string    `yaml:"intro" json:"intro"`
	Specialty    string    `yaml:"specialty" json:"specialty"`
	Capabilities []string  `yaml:"capabilities" json:"capabilities"`
	Triggers     []Trigger `yaml:"triggers" json:"triggers"`
}

// Catalog builds fresh Persona instances by name
type Catalog struct {
	definitions     map[string]Definition
	names           []string
	priority        []string
	defaultVoice    string
	defaultLanguage string
}

// NewCatalog indexes definitions by name. Later duplicates replace earlier ones.
func NewCatalog(definitions []Definition, priority []string, defaultVoice, defaultLanguage string) *Catalog {
	c := &Catalog{
		definitions:     make(map[string]Definition, len(definitions)),
		priority:        append([]string(nil), priority...),
		defaultVoice:    defaultVoice,
		defaultLanguage: defaultLanguage,
	}
	for _, def := range definitions {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		if _, exists := c.definitions[name]; !exists {
			c.names = append(c.names, name)
		}
		def.Name = name
		c.definitions[name] = def
	}
	return c
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.definitions[name]
	return ok
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Build constructs a new Persona for name
func (c *Catalog) Build(name string) (*Persona, error) {
	def, ok := c.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPersona, name)
	}

	p := &Persona{
		name:         def.Name,
		voice:        firstNonEmpty(def.Voice, c.defaultVoice),
		language:     firstNonEmpty(def.Language, c.defaultLanguage),
		capabilities: append([]string(nil), def.Capabilities...),
	}
	p.instructions = firstNonEmpty(def.Instructions, defaultInstructions(def, p.language))
	p.intro = firstNonEmpty(def.Intro, defaultIntro(def, p.language))

	triggers := make([]Trigger, 0, len(def.Triggers))
	for _, trigger := range def.Triggers {
		keywords := normalizeKeywords(trigger.Keywords)
		if trigger.Target == "" || len(keywords) == 0 {
			continue
		}
		if trigger.Reason == "" {
			trigger.Reason = trigger.Category + " request"
		}
		trigger.Keywords = keywords
		triggers = append(triggers, trigger)
	}
	p.triggers = OrderByPriority(triggers, func(t Trigger) string { return t.Category }, c.priority)

	return p, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
