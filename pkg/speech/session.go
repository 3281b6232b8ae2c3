package speech

import (
	"context"
	"errors"
	"time"

	"voice-call-orchestrator/pkg/models"
)

var (
	ErrSessionClosed  = errors.New("speech session is closed")
	ErrNotConnected   = errors.New("speech session is not connected")
	ErrReplyCancelled = errors.New("reply cancelled")
	ErrReplyFailed    = errors.New("reply failed")
)

// Agent is what a session needs to know about the active persona
type Agent interface {
	Name() string
	Voice() string
	Language() string
	Instructions() string
	Capabilities() []string
}

// ReplyHandle completes when the engine has finished speaking a reply
type ReplyHandle interface {
	Wait(ctx context.Context) error
}

// ConversationItem is a committed turn in the session's chat context
type ConversationItem struct {
	ID        string
	Role      models.Role
	Text      string
	CreatedAt time.Time
}

// Transcript is a caller speech transcription
type Transcript struct {
	ItemID string
	Text   string
	Final  bool
}

// ToolCall is a function call requested by the engine. Arguments is raw JSON.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// FunctionTool describes a capability exposed to the engine as a function
type FunctionTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Session is the realtime speech engine driving one call. Callbacks must
// be registered before Connect and must not block.
type Session interface {
	Connect(ctx context.Context) error
	Start(ctx context.Context, agent Agent) error
	GenerateReply(ctx context.Context, instructions string) (ReplyHandle, error)
	UpdateAgent(ctx context.Context, agent Agent, preserveContext bool) error
	SubmitToolResult(ctx context.Context, callID, output string) error

	OnConversationItemAdded(func(ConversationItem))
	OnUserInputTranscribed(func(Transcript))
	OnToolCall(func(ToolCall))
	OnClosed(func(err error))

	Close() error
}

// ToolsFor returns the subset of tools named by capabilities, in capability order
func ToolsFor(tools []FunctionTool, capabilities []string) []FunctionTool {
	byName := make(map[string]FunctionTool, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	out := make([]FunctionTool, 0, len(capabilities))
	for _, capability := range capabilities {
		if tool, ok := byName[capability]; ok {
			out = append(out, tool)
		}
	}
	return out
}
