package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/memory"
	"voice-call-orchestrator/pkg/persona"
)

const (
	DefaultWorkflowType   = "customer_service"
	DefaultLanguage       = "Svenska"
	DefaultVoice          = "alloy"
	DefaultRequiredFields = "name,phone"
)

// Workflow types. Any other value behaves like hybrid.
const (
	WorkflowSingleAgent = "single_agent"
	WorkflowMultiAgent  = "multi_agent"
	WorkflowTaskBased   = "task_based"
	WorkflowHybrid      = "hybrid"
)

// Workflow is the per-deployment call workflow document. Every field is
// optional; accessors return documented defaults for anything missing.
type Workflow struct {
	WorkflowType      string               `yaml:"workflow_type"`
	Language          string               `yaml:"language"`
	Voice             string               `yaml:"voice"`
	FirstMessage      string               `yaml:"first_message"`
	InitialPersona    string               `yaml:"initial_persona"`
	Settings          WorkflowSettings     `yaml:"workflow"`
	Personas          []persona.Definition `yaml:"personas"`
	Categories        []persona.Category   `yaml:"categories"`
	CompletionSignals []string             `yaml:"completion_signals"`
	EscalationSignals []string             `yaml:"escalation_signals"`
	UrgencyKeywords   []string             `yaml:"urgency_keywords"`
	Tasks             Tasks                `yaml:"tasks"`
	Safety            SafetySettings       `yaml:"safety"`
	Integrations      Integrations         `yaml:"integrations"`
}

type WorkflowSettings struct {
	MaxHandoffs         *int              `yaml:"max_handoffs"`
	ContextPreservation *bool             `yaml:"context_preservation"`
	CategoryPriority    []string          `yaml:"category_priority"`
	CategoryRoutes      map[string]string `yaml:"category_routes"`
}

type Tasks struct {
	InformationGathering InformationGathering `yaml:"information_gathering"`
	ConsentCollection    ConsentCollection    `yaml:"consent_collection"`
}

// ConsentCollection asks for recording consent before the call proceeds.
// A required consent that is declined ends the call.
type ConsentCollection struct {
	Enabled  *bool `yaml:"enabled"`
	Required *bool `yaml:"required"`
}

type InformationGathering struct {
	Enabled        *bool  `yaml:"enabled"`
	RequiredFields string `yaml:"required_fields"`
}

// SafetySettings are in seconds
type SafetySettings struct {
	Enabled           *bool `yaml:"enabled"`
	MaxCallDuration   int   `yaml:"max_call_duration"`
	InactivityTimeout int   `yaml:"inactivity_timeout"`
	PollInterval      int   `yaml:"poll_interval"`
	FarewellTimeout   int   `yaml:"farewell_timeout"`
}

type Integrations struct {
	Webhook WebhookSettings `yaml:"webhook"`
}

type WebhookSettings struct {
	Enabled    *bool  `yaml:"enabled"`
	URL        string `yaml:"url"`
	AuthHeader string `yaml:"auth_header"`
	Timeout    int    `yaml:"timeout"`
}

// LoadWorkflow reads the workflow document at path. A missing or unreadable
// document yields the defaults; malformed fields are dropped with a warning.
func LoadWorkflow(path string, logger *logrus.Logger) *Workflow {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Could not read workflow config, using defaults")
		return &Workflow{}
	}

	workflow, err := ParseWorkflow(data)
	if workflow == nil {
		logger.WithError(err).WithField("path", path).Warn("Could not parse workflow config, using defaults")
		return &Workflow{}
	}
	if err != nil {
		logger.WithError(err).WithField("path", path).Warn("Ignoring malformed workflow config fields")
	}

	logger.WithFields(logrus.Fields{
		"path":          path,
		"workflow_type": workflow.Type(),
		"personas":      len(workflow.Personas),
	}).Info("Loaded workflow config")
	return workflow
}

// ParseWorkflow decodes a YAML document, optionally embedded in markdown.
// Each top-level key is decoded independently so a malformed field does not
// discard the rest. The returned error lists every dropped field.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(extractYAML(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}

	w := &Workflow{}
	targets := map[string]any{
		"workflow_type":      &w.WorkflowType,
		"language":           &w.Language,
		"voice":              &w.Voice,
		"first_message":      &w.FirstMessage,
		"initial_persona":    &w.InitialPersona,
		"workflow":           &w.Settings,
		"personas":           &w.Personas,
		"categories":         &w.Categories,
		"completion_signals": &w.CompletionSignals,
		"escalation_signals": &w.EscalationSignals,
		"urgency_keywords":   &w.UrgencyKeywords,
		"tasks":              &w.Tasks,
		"safety":             &w.Safety,
		"integrations":       &w.Integrations,
	}

	var problems []error
	for key, node := range raw {
		target, ok := targets[key]
		if !ok {
			continue
		}
		node := node
		if err := node.Decode(target); err != nil {
			problems = append(problems, fmt.Errorf("field %s: %w", key, err))
		}
	}

	return w, errors.Join(problems...)
}

// extractYAML strips markdown around the YAML body: code fences and '#'
// prose lines (banner lines starting with "# ===" are kept as comments).
func extractYAML(content string) string {
	var lines []string
	started := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "# ===") {
			continue
		}
		if trimmed != "" && !strings.HasPrefix(line, "#") {
			started = true
		}
		if started {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func (w *Workflow) Type() string {
	return orDefault(w.WorkflowType, DefaultWorkflowType)
}

func (w *Workflow) LanguageOrDefault() string {
	return orDefault(w.Language, DefaultLanguage)
}

func (w *Workflow) VoiceOrDefault() string {
	return orDefault(w.Voice, DefaultVoice)
}

// PersonaDefinitions returns the configured personas that have a name. When
// none do, the default catalog is used.
func (w *Workflow) PersonaDefinitions() []persona.Definition {
	defs := make([]persona.Definition, 0, len(w.Personas))
	for _, def := range w.Personas {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		def.Name = strings.TrimSpace(def.Name)
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return persona.DefaultDefinitions()
	}
	return defs
}

// InitialPersonaName returns the configured initial persona, falling back to
// the first defined persona
func (w *Workflow) InitialPersonaName() string {
	defs := w.PersonaDefinitions()
	for _, def := range defs {
		if w.InitialPersona != "" && def.Name == w.InitialPersona {
			return def.Name
		}
	}
	if len(defs) == 0 {
		return ""
	}
	return defs[0].Name
}

func (w *Workflow) Catalog() *persona.Catalog {
	return persona.NewCatalog(w.PersonaDefinitions(), w.CategoryPriority(), w.VoiceOrDefault(), w.LanguageOrDefault())
}

func (w *Workflow) CategoryPriority() []string {
	if len(w.Settings.CategoryPriority) == 0 {
		return persona.DefaultCategoryPriority
	}
	return w.Settings.CategoryPriority
}

func (w *Workflow) CallCategories() []persona.Category {
	categories := w.Categories
	if len(categories) == 0 {
		categories = persona.DefaultCallCategories
	}
	return persona.OrderByPriority(categories, func(c persona.Category) string { return c.Name }, w.CategoryPriority())
}

// CategoryRoutes maps a call category to the specialist persona that takes
// over once the call is categorized
func (w *Workflow) CategoryRoutes() map[string]string {
	source := w.Settings.CategoryRoutes
	if len(source) == 0 {
		source = persona.DefaultCategoryRoutes
	}
	routes := make(map[string]string, len(source))
	for category, target := range source {
		category = strings.ToLower(strings.TrimSpace(category))
		target = strings.TrimSpace(target)
		if category == "" || target == "" {
			continue
		}
		routes[category] = target
	}
	return routes
}

// HandoffsEnabled is false for workflows that keep one persona for the whole call
func (w *Workflow) HandoffsEnabled() bool {
	switch w.Type() {
	case WorkflowSingleAgent, WorkflowTaskBased:
		return false
	}
	return true
}

// TasksEnabled reports whether structured tasks such as consent collection run
func (w *Workflow) TasksEnabled() bool {
	switch w.Type() {
	case WorkflowSingleAgent, WorkflowMultiAgent:
		return false
	}
	return true
}

func (w *Workflow) ConsentEnabled() bool {
	return w.TasksEnabled() && boolOrDefault(w.Tasks.ConsentCollection.Enabled, false)
}

func (w *Workflow) ConsentRequired() bool {
	return boolOrDefault(w.Tasks.ConsentCollection.Required, false)
}

func (w *Workflow) CompletionSignalSet() persona.Signals {
	return persona.NewSignals(orDefaultList(w.CompletionSignals, persona.DefaultCompletionSignals))
}

func (w *Workflow) EscalationSignalSet() persona.Signals {
	return persona.NewSignals(orDefaultList(w.EscalationSignals, persona.DefaultEscalationSignals))
}

func (w *Workflow) UrgencySignalSet() persona.Signals {
	return persona.NewSignals(orDefaultList(w.UrgencyKeywords, persona.DefaultUrgencyKeywords))
}

func (w *Workflow) MaxHandoffs() int {
	if w.Settings.MaxHandoffs == nil || *w.Settings.MaxHandoffs < 0 {
		return constants.DefaultMaxHandoffs
	}
	return *w.Settings.MaxHandoffs
}

func (w *Workflow) PreserveContext() bool {
	return boolOrDefault(w.Settings.ContextPreservation, true)
}

func (w *Workflow) InformationGatheringEnabled() bool {
	return boolOrDefault(w.Tasks.InformationGathering.Enabled, true)
}

// RequiredFields parses the comma separated required contact fields. Unknown
// names are skipped.
func (w *Workflow) RequiredFields() []memory.Field {
	raw := orDefault(w.Tasks.InformationGathering.RequiredFields, DefaultRequiredFields)
	var fields []memory.Field
	for _, name := range strings.Split(raw, ",") {
		field, err := memory.ParseField(name)
		if err != nil {
			continue
		}
		fields = append(fields, field)
	}
	return fields
}

func (w *Workflow) SafetyEnabled() bool {
	return boolOrDefault(w.Safety.Enabled, true)
}

func (w *Workflow) MaxCallDuration() time.Duration {
	return constants.DurationOrDefault(w.Safety.MaxCallDuration, constants.DefaultMaxCallDurationSeconds)
}

func (w *Workflow) InactivityTimeout() time.Duration {
	return constants.DurationOrDefault(w.Safety.InactivityTimeout, constants.DefaultInactivityTimeoutSeconds)
}

func (w *Workflow) SafetyPollInterval() time.Duration {
	return constants.DurationOrDefault(w.Safety.PollInterval, constants.DefaultSafetyPollIntervalSeconds)
}

func (w *Workflow) FarewellTimeout() time.Duration {
	return constants.DurationOrDefault(w.Safety.FarewellTimeout, constants.DefaultFarewellTimeoutSeconds)
}

// WebhookURL returns the delivery URL, or "" when delivery is disabled.
// override (from the environment) wins over the document.
func (w *Workflow) WebhookURL(override string) string {
	if !boolOrDefault(w.Integrations.Webhook.Enabled, true) {
		return ""
	}
	return orDefault(override, w.Integrations.Webhook.URL)
}

func (w *Workflow) WebhookTimeout() time.Duration {
	return constants.DurationOrDefault(w.Integrations.Webhook.Timeout, constants.DefaultWebhookTimeoutSeconds)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func orDefaultList(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
