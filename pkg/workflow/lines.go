package workflow

import (
	"fmt"

	"voice-call-orchestrator/pkg/memory"
)

// lines are the canned utterances the orchestrator speaks itself
type lines struct {
	swedish    bool
	greeting   string
	apology    string
	farewell   string
	escalation string
	closing    string

	consentRequest  string
	consentGranted  string
	consentDeclined string
	consentEnd      string
}

var swedishLines = lines{
	swedish:    true,
	greeting:   "Hej, tack för att du ringde. Hur kan jag hjälpa dig idag?",
	apology:    "Ursäkta, jag hade ett tekniskt problem. Låt mig se till att du får hjälp på annat sätt.",
	farewell:   "Tack för samtalet. Jag avslutar nu. Ha en fin dag!",
	escalation: "Jag förstår att det här är komplicerat. En medarbetare kontaktar dig så snart som möjligt.",
	closing:    "Tack för ditt samtal. En medarbetare återkommer så fort de kan.",

	consentRequest:  "Hej! Innan vi fortsätter behöver jag fråga om du är okej med att vi spelar in det här samtalet för kvalitetssäkring och utbildning. Du kan såklart säga nej. Är det okej om vi spelar in?",
	consentGranted:  "Tack så mycket! Inspelningen påbörjas nu. Hur kan jag hjälpa dig idag?",
	consentDeclined: "Inga problem alls! Vi kommer inte att spela in samtalet. Hur kan jag hjälpa dig idag?",
	consentEnd:      "Tack för din tid. Ha en fin dag!",
}

var englishLines = lines{
	greeting:   "Hello, thank you for calling. How can I help you today?",
	apology:    "I'm sorry, I had a technical problem. Let me make sure you get help another way.",
	farewell:   "Thank you for the call. I'm ending it now. Have a nice day!",
	escalation: "I understand this is complicated. A colleague will contact you as soon as possible.",
	closing:    "Thank you for your call. A colleague will get back to you as soon as they can.",

	consentRequest:  "Hi! Before we continue, I need to ask if you're comfortable with us recording this call for quality assurance and training. You're free to decline. Is it okay if we record this call?",
	consentGranted:  "Thank you! Recording will now begin. How can I help you today?",
	consentDeclined: "No problem at all! We won't record the call. How can I help you today?",
	consentEnd:      "Thank you for your time. Have a great day!",
}

func linesFor(language string) lines {
	if memory.IsSwedish(language) {
		return swedishLines
	}
	return englishLines
}

// say wraps a fixed line as a reply instruction
func (l lines) say(text string) string {
	if l.swedish {
		return fmt.Sprintf("Säg exakt: '%s'", text)
	}
	return fmt.Sprintf("Say exactly: '%s'", text)
}

// closingFor confirms what was collected before the closing line
func (l lines) closingFor(m *memory.CallerMemory) string {
	purpose := m.Get(memory.FieldPurpose)
	if purpose == "" {
		return l.say(l.closing)
	}
	if l.swedish {
		return l.say(fmt.Sprintf("Jag förstår att du behöver hjälp med: %s. %s", purpose, l.closing))
	}
	return l.say(fmt.Sprintf("I understand you need help with: %s. %s", purpose, l.closing))
}
