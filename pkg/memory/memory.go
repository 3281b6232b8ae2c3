package memory

import (
	"errors"
	"strings"
	"sync"
)

// Field names a piece of caller information
type Field string

const (
	FieldName    Field = "name"
	FieldPhone   Field = "phone"
	FieldEmail   Field = "email"
	FieldPurpose Field = "purpose"
	FieldUrgency Field = "urgency"
	FieldNotes   Field = "notes"
)

const (
	UrgencyNormal = "normal"
	UrgencyHigh   = "high"
)

var (
	ErrUnknownField   = errors.New("unknown caller memory field")
	ErrInvalidUrgency = errors.New("urgency must be normal or high")
)

// ParseField accepts the field names used by tool calls and config
func ParseField(raw string) (Field, error) {
	switch Field(strings.ToLower(strings.TrimSpace(raw))) {
	case FieldName:
		return FieldName, nil
	case FieldPhone:
		return FieldPhone, nil
	case FieldEmail:
		return FieldEmail, nil
	case FieldPurpose:
		return FieldPurpose, nil
	case FieldUrgency:
		return FieldUrgency, nil
	case FieldNotes, "note":
		return FieldNotes, nil
	}
	return "", ErrUnknownField
}

type labels struct {
	name, phone, email, purpose, urgency, notes, empty, high string
}

var swedishLabels = labels{
	name:    "Kontakt",
	phone:   "Telefon",
	email:   "E-post",
	purpose: "Ärende",
	urgency: "Brådska",
	notes:   "Anteckningar",
	empty:   "Ingen information insamlad än",
	high:    "hög",
}

var englishLabels = labels{
	name:    "Contact",
	phone:   "Phone",
	email:   "Email",
	purpose: "Purpose",
	urgency: "Urgency",
	notes:   "Notes",
	empty:   "No information collected yet",
	high:    "high",
}

// CallerMemory holds what has been learned about the caller during one call.
// Fields are never erased by Update; only Correct can overwrite or clear them.
type CallerMemory struct {
	mu      sync.RWMutex
	name    string
	phone   string
	email   string
	purpose string
	urgency string
	notes   []string
	swedish bool
}

// New creates an empty memory rendering its summary in the given language
func New(language string) *CallerMemory {
	return &CallerMemory{
		urgency: UrgencyNormal,
		swedish: IsSwedish(language),
	}
}

// IsSwedish reports whether a configured language name means Swedish
func IsSwedish(language string) bool {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "svenska", "swedish", "sv", "sv-se":
		return true
	}
	return false
}

// Update sets field to value. Empty values are ignored.
func (m *CallerMemory) Update(field Field, value string) error {
	value = strings.TrimSpace(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if field == FieldUrgency {
		if value == "" {
			return nil
		}
		urgency, err := normalizeUrgency(value)
		if err != nil {
			return err
		}
		m.urgency = urgency
		return nil
	}

	target, err := m.stringField(field)
	if err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	if target == nil {
		m.notes = append(m.notes, value)
		return nil
	}
	*target = value
	return nil
}

// Correct overwrites field unconditionally. An empty value clears it.
func (m *CallerMemory) Correct(field Field, value string) error {
	value = strings.TrimSpace(value)

	m.mu.Lock()
	defer m.mu.Unlock()

	if field == FieldUrgency {
		if value == "" {
			m.urgency = UrgencyNormal
			return nil
		}
		urgency, err := normalizeUrgency(value)
		if err != nil {
			return err
		}
		m.urgency = urgency
		return nil
	}

	target, err := m.stringField(field)
	if err != nil {
		return err
	}
	if target == nil {
		if value == "" {
			m.notes = nil
		} else {
			m.notes = []string{value}
		}
		return nil
	}
	*target = value
	return nil
}

// stringField returns a pointer to a scalar field, or nil for notes
func (m *CallerMemory) stringField(field Field) (*string, error) {
	switch field {
	case FieldName:
		return &m.name, nil
	case FieldPhone:
		return &m.phone, nil
	case FieldEmail:
		return &m.email, nil
	case FieldPurpose:
		return &m.purpose, nil
	case FieldNotes:
		return nil, nil
	}
	return nil, ErrUnknownField
}

func normalizeUrgency(value string) (string, error) {
	switch strings.ToLower(value) {
	case UrgencyNormal:
		return UrgencyNormal, nil
	case UrgencyHigh:
		return UrgencyHigh, nil
	}
	return "", ErrInvalidUrgency
}

// Get returns the current value of a scalar field
func (m *CallerMemory) Get(field Field) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch field {
	case FieldName:
		return m.name
	case FieldPhone:
		return m.phone
	case FieldEmail:
		return m.email
	case FieldPurpose:
		return m.purpose
	case FieldUrgency:
		return m.urgency
	case FieldNotes:
		return strings.Join(m.notes, ", ")
	}
	return ""
}

func (m *CallerMemory) Notes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.notes...)
}

// HasContact reports whether every required field has a value
func (m *CallerMemory) HasContact(required []Field) bool {
	for _, field := range required {
		if m.Get(field) == "" {
			return false
		}
	}
	return true
}

// RenderSummary renders the collected fields in a fixed order:
// name, phone, email, purpose, urgency (only when high), notes.
func (m *CallerMemory) RenderSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l := englishLabels
	if m.swedish {
		l = swedishLabels
	}

	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add(l.name, m.name)
	add(l.phone, m.phone)
	add(l.email, m.email)
	add(l.purpose, m.purpose)
	if m.urgency == UrgencyHigh {
		add(l.urgency, l.high)
	}
	if len(m.notes) > 0 {
		add(l.notes, strings.Join(m.notes, ", "))
	}

	if len(parts) == 0 {
		return l.empty
	}
	return strings.Join(parts, " | ")
}

// Snapshot returns the set fields for the completion payload
func (m *CallerMemory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := map[string]any{
		string(FieldUrgency): m.urgency,
	}
	for field, value := range map[Field]string{
		FieldName:    m.name,
		FieldPhone:   m.phone,
		FieldEmail:   m.email,
		FieldPurpose: m.purpose,
	} {
		if value != "" {
			snapshot[string(field)] = value
		}
	}
	if len(m.notes) > 0 {
		snapshot[string(FieldNotes)] = append([]string(nil), m.notes...)
	}
	return snapshot
}
