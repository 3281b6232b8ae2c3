package persona

import (
	"fmt"

	"voice-call-orchestrator/pkg/memory"
)

// Persona names used by the default catalog
const (
	PrimaryAgent    = "PrimaryAgent"
	TechnicalAgent  = "TechnicalAgent"
	BillingAgent    = "BillingAgent"
	SalesAgent      = "SalesAgent"
	EscalationAgent = "EscalationAgent"

	InsuranceSpecialist = "InsuranceSpecialist"
	SolarSpecialist     = "SolarSpecialist"
)

var DefaultCategoryPriority = []string{"technical", "billing", "escalation"}

var technicalKeywords = []string{
	"technical", "tech", "not working", "broken", "error", "bug",
	"teknisk", "fungerar inte", "trasig", "fel", "problem",
}

var billingKeywords = []string{
	"billing", "payment", "invoice", "charge", "refund", "bill",
	"faktura", "betalning", "återbetalning", "kostnad",
}

var escalationKeywords = []string{
	"manager", "supervisor", "escalate", "complaint", "angry",
	"chef", "klagomål", "arg", "missnöjd",
}

// DefaultCategoryRoutes hands categorized calls to a specialist. Categories
// without a route stay with the current persona.
var DefaultCategoryRoutes = map[string]string{
	"insurance": InsuranceSpecialist,
	"solar":     SolarSpecialist,
}

// DefaultCallCategories drive call categorization when the workflow
// document does not provide its own
var DefaultCallCategories = []Category{
	{Name: "insurance", Keywords: []string{"försäkring", "premie", "avgift", "täckning", "skydd", "insurance", "premium", "coverage"}},
	{Name: "solar", Keywords: []string{"solcell", "anläggning", "installation", "panel", "energi", "solar"}},
	{Name: "support", Keywords: []string{"fungerar inte", "trasig", "support", "teknisk", "not working", "broken"}},
	{Name: "billing", Keywords: []string{"faktura", "betalning", "kostnad", "räkning", "invoice", "payment", "bill"}},
	{Name: "general", Keywords: []string{"information", "fråga", "vill veta", "undrar", "question", "wondering"}},
}

var DefaultCompletionSignals = []string{
	"tack", "det räcker", "inget mer", "nej tack", "hej då", "hejdå",
	"that's all", "thank you", "thanks", "goodbye", "bye",
}

var DefaultEscalationSignals = []string{
	"komplex", "svårt", "förstår inte", "kan inte hjälpa",
	"too complicated", "you don't understand", "speak to a human", "real person",
}

var DefaultUrgencyKeywords = []string{
	"brådskande", "akut", "snabbt", "direkt", "omedelbart",
	"urgent", "emergency", "asap", "immediately",
}

var primaryCapabilities = []string{
	CapabilityRecordCallerInfo,
	CapabilityCorrectCallerInfo,
	CapabilityCategorizeCall,
	CapabilityAddNote,
	CapabilityTransferToSpecialist,
	CapabilityEndCall,
	CapabilityRecordConsent,
}

var specialistCapabilities = []string{
	CapabilityRecordCallerInfo,
	CapabilityCorrectCallerInfo,
	CapabilityAddNote,
	CapabilityTransferToSpecialist,
	CapabilityEndCall,
}

func escalationTrigger() Trigger {
	return Trigger{Category: "escalation", Target: EscalationAgent, Reason: "escalation requested", Keywords: escalationKeywords}
}

// DefaultDefinitions is the general-intake persona plus its specialists
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:         PrimaryAgent,
			Specialty:    "general inquiries",
			Capabilities: primaryCapabilities,
			Triggers: []Trigger{
				{Category: "technical", Target: TechnicalAgent, Reason: "technical support request", Keywords: technicalKeywords},
				{Category: "billing", Target: BillingAgent, Reason: "billing inquiry", Keywords: billingKeywords},
				escalationTrigger(),
			},
		},
		{
			Name:         TechnicalAgent,
			Specialty:    "Technical Support",
			Capabilities: specialistCapabilities,
			Triggers:     []Trigger{escalationTrigger()},
		},
		{
			Name:         BillingAgent,
			Specialty:    "Billing and Accounts",
			Capabilities: specialistCapabilities,
			Triggers:     []Trigger{escalationTrigger()},
		},
		{
			Name:         SalesAgent,
			Specialty:    "Sales",
			Capabilities: specialistCapabilities,
			Triggers:     []Trigger{escalationTrigger()},
		},
		{
			Name:         InsuranceSpecialist,
			Specialty:    "insurance inquiries",
			Capabilities: specialistCapabilities,
			Triggers:     []Trigger{escalationTrigger()},
		},
		{
			Name:         SolarSpecialist,
			Specialty:    "solar installations",
			Capabilities: specialistCapabilities,
			Triggers:     []Trigger{escalationTrigger()},
		},
		{
			Name:         EscalationAgent,
			Specialty:    "customer care management",
			Capabilities: specialistCapabilities,
		},
	}
}

func defaultInstructions(def Definition, language string) string {
	specialty := firstNonEmpty(def.Specialty, "general inquiries")
	if memory.IsSwedish(language) {
		return fmt.Sprintf("Du är %s, en hjälpsam röstassistent inom %s. "+
			"Ställ en fråga i taget, bekräfta viktig information och svara alltid på svenska.", def.Name, specialty)
	}
	return fmt.Sprintf("You are %s, a helpful voice assistant for %s. "+
		"Ask one question at a time, confirm important details and keep the conversation natural.", def.Name, specialty)
}

func defaultIntro(def Definition, language string) string {
	if def.Specialty == "" || def.Specialty == "general inquiries" {
		if memory.IsSwedish(language) {
			return "Hälsa vänligt och fråga vem som ringer. Säg att du är här för att hjälpa till."
		}
		return "Greet the caller warmly and ask who you're speaking with. Let them know you're here to help."
	}
	if memory.IsSwedish(language) {
		return fmt.Sprintf("Introducera dig som specialist inom %s. Fråga hur du kan hjälpa med deras specifika behov.", def.Specialty)
	}
	return fmt.Sprintf("Introduce yourself as a %s specialist. Ask how you can help with their specific needs.", def.Specialty)
}
