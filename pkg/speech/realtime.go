package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/metrics"
	"voice-call-orchestrator/pkg/models"
)

const (
	defaultRealtimeURL         = "wss://api.openai.com/v1/realtime"
	defaultRealtimeModel       = "gpt-4o-realtime-preview"
	defaultTranscriptionModel  = "whisper-1"
	defaultRealtimeDialTimeout = 15 * time.Second
	replyMetadataKey           = "reply_id"
)

type RealtimeConfig struct {
	URL                string
	APIKey             string
	Model              string
	TranscriptionModel string
	DialTimeout        time.Duration
	Tools              []FunctionTool
}

// RealtimeSession implements Session over a realtime speech websocket
type RealtimeSession struct {
	config  RealtimeConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics

	conn      *websocket.Conn
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	mu            sync.Mutex
	items         []string
	pending       map[string]*replyHandle
	seenToolCalls map[string]struct{}

	onItemAdded   func(ConversationItem)
	onTranscribed func(Transcript)
	onToolCall    func(ToolCall)
	onClosed      func(error)
}

func NewRealtimeSession(config RealtimeConfig, logger *logrus.Logger, metrics *metrics.Metrics) *RealtimeSession {
	if config.URL == "" {
		config.URL = defaultRealtimeURL
	}
	if config.Model == "" {
		config.Model = defaultRealtimeModel
	}
	if config.TranscriptionModel == "" {
		config.TranscriptionModel = defaultTranscriptionModel
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaultRealtimeDialTimeout
	}
	return &RealtimeSession{
		config:        config,
		logger:        logger,
		metrics:       metrics,
		pending:       make(map[string]*replyHandle),
		seenToolCalls: make(map[string]struct{}),
	}
}

func (s *RealtimeSession) OnConversationItemAdded(fn func(ConversationItem)) { s.onItemAdded = fn }
func (s *RealtimeSession) OnUserInputTranscribed(fn func(Transcript))       { s.onTranscribed = fn }
func (s *RealtimeSession) OnToolCall(fn func(ToolCall))                     { s.onToolCall = fn }
func (s *RealtimeSession) OnClosed(fn func(error))                          { s.onClosed = fn }

// Connect dials the realtime endpoint and starts reading server events
func (s *RealtimeSession) Connect(ctx context.Context) error {
	wsURL, err := s.endpoint()
	if err != nil {
		return err
	}

	headers := make(http.Header)
	if s.config.APIKey != "" {
		headers.Set("Authorization", "Bearer "+s.config.APIKey)
	}
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.config.DialTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to dial realtime session (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to dial realtime session: %w", err)
	}

	s.conn = conn
	s.done = make(chan struct{})
	go s.readLoop()

	s.logger.WithField("model", s.config.Model).Info("Realtime session connected")
	return nil
}

func (s *RealtimeSession) endpoint() (string, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", s.config.Model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start configures the session for the first persona
func (s *RealtimeSession) Start(ctx context.Context, agent Agent) error {
	return s.sendSessionUpdate(agent)
}

func (s *RealtimeSession) UpdateAgent(ctx context.Context, agent Agent, preserveContext bool) error {
	if !preserveContext {
		s.mu.Lock()
		items := s.items
		s.items = nil
		s.mu.Unlock()

		for _, id := range items {
			if err := s.sendJSON(map[string]any{"type": "conversation.item.delete", "item_id": id}); err != nil {
				return fmt.Errorf("failed to clear conversation item: %w", err)
			}
		}
	}
	return s.sendSessionUpdate(agent)
}

func (s *RealtimeSession) sendSessionUpdate(agent Agent) error {
	tools := make([]map[string]any, 0)
	for _, tool := range ToolsFor(s.config.Tools, agent.Capabilities()) {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters":  tool.Parameters,
		})
	}

	session := map[string]any{
		"instructions":              agent.Instructions(),
		"modalities":                []string{"text", "audio"},
		"tools":                     tools,
		"tool_choice":               "auto",
		"input_audio_transcription": map[string]any{"model": s.config.TranscriptionModel},
	}
	if agent.Voice() != "" {
		session["voice"] = agent.Voice()
	}

	if err := s.sendJSON(map[string]any{"type": "session.update", "session": session}); err != nil {
		return fmt.Errorf("failed to update session for %s: %w", agent.Name(), err)
	}
	return nil
}

// GenerateReply asks the engine to respond using instructions. The returned
// handle completes on the matching response.done event.
func (s *RealtimeSession) GenerateReply(ctx context.Context, instructions string) (ReplyHandle, error) {
	id := uuid.New().String()
	handle := newReplyHandle()

	s.mu.Lock()
	s.pending[id] = handle
	s.mu.Unlock()

	err := s.sendJSON(map[string]any{
		"type": "response.create",
		"response": map[string]any{
			"instructions": instructions,
			"metadata":     map[string]string{replyMetadataKey: id},
		},
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to request reply: %w", err)
	}
	return handle, nil
}

// SubmitToolResult returns a function result to the engine and lets it continue
func (s *RealtimeSession) SubmitToolResult(ctx context.Context, callID, output string) error {
	err := s.sendJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to submit tool result: %w", err)
	}
	if err := s.sendJSON(map[string]any{"type": "response.create"}); err != nil {
		return fmt.Errorf("failed to resume after tool result: %w", err)
	}
	return nil
}

func (s *RealtimeSession) sendJSON(v any) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close closes the websocket and waits for the read loop to exit
func (s *RealtimeSession) Close() error {
	if s.conn == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

type serverEvent struct {
	Type       string          `json:"type"`
	ItemID     string          `json:"item_id"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	Transcript string          `json:"transcript"`
	Delta      string          `json:"delta"`
	Item       *serverItem     `json:"item"`
	Response   *serverResponse `json:"response"`
	Error      *serverError    `json:"error"`
}

type serverItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Role      string          `json:"role"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Content   []serverContent `json:"content"`
}

type serverContent struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

type serverResponse struct {
	ID            string            `json:"id"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
	StatusDetails json.RawMessage   `json:"status_details"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i *serverItem) text() string {
	var parts []string
	for _, c := range i.Content {
		switch {
		case c.Text != "":
			parts = append(parts, c.Text)
		case c.Transcript != "":
			parts = append(parts, c.Transcript)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (s *RealtimeSession) readLoop() {
	var loopErr error
	defer func() {
		s.closed.Store(true)
		s.failPending(loopErr)
		close(s.done)
		if s.onClosed != nil {
			s.onClosed(loopErr)
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			loopErr = err
			return
		}

		var event serverEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.WithError(err).Warn("Failed to decode realtime event")
			continue
		}
		s.metrics.SpeechEventsReceived.WithLabelValues(event.Type).Inc()
		s.handleEvent(event)
	}
}

func (s *RealtimeSession) handleEvent(event serverEvent) {
	switch event.Type {
	case "conversation.item.created":
		if event.Item == nil {
			return
		}
		s.mu.Lock()
		s.items = append(s.items, event.Item.ID)
		s.mu.Unlock()

		// Audio input items carry no text until transcription completes
		if event.Item.Type == "message" && event.Item.Role != "assistant" {
			if text := event.Item.text(); text != "" {
				s.emitItem(event.Item.ID, event.Item.Role, text)
			}
		}

	case "conversation.item.input_audio_transcription.delta":
		if s.onTranscribed != nil && event.Delta != "" {
			s.onTranscribed(Transcript{ItemID: event.ItemID, Text: event.Delta})
		}

	case "conversation.item.input_audio_transcription.completed":
		text := strings.TrimSpace(event.Transcript)
		if text == "" {
			return
		}
		if s.onTranscribed != nil {
			s.onTranscribed(Transcript{ItemID: event.ItemID, Text: text, Final: true})
		}
		s.emitItem(event.ItemID, "user", text)

	case "response.output_item.done":
		if event.Item == nil {
			return
		}
		switch event.Item.Type {
		case "message":
			if text := event.Item.text(); text != "" {
				s.emitItem(event.Item.ID, event.Item.Role, text)
			}
		case "function_call":
			s.emitToolCall(event.Item.CallID, event.Item.Name, event.Item.Arguments)
		}

	case "response.function_call_arguments.done":
		s.emitToolCall(event.CallID, event.Name, event.Arguments)

	case "response.done":
		if event.Response != nil {
			s.completeReply(event.Response)
		}

	case "error":
		if event.Error != nil {
			s.logger.WithFields(logrus.Fields{
				"code": event.Error.Code,
				"type": event.Error.Type,
			}).Error("Realtime session error: " + event.Error.Message)
		}
	}
}

func (s *RealtimeSession) emitItem(id, role, text string) {
	if s.onItemAdded == nil {
		return
	}
	s.onItemAdded(ConversationItem{
		ID:        id,
		Role:      models.ParseRole(role),
		Text:      text,
		CreatedAt: time.Now(),
	})
}

// emitToolCall delivers each call id once; the engine reports function
// calls through both the arguments and the output item events.
func (s *RealtimeSession) emitToolCall(callID, name, arguments string) {
	if callID == "" || name == "" {
		return
	}
	s.mu.Lock()
	if _, seen := s.seenToolCalls[callID]; seen {
		s.mu.Unlock()
		return
	}
	s.seenToolCalls[callID] = struct{}{}
	s.mu.Unlock()

	if s.onToolCall != nil {
		s.onToolCall(ToolCall{CallID: callID, Name: name, Arguments: arguments})
	}
}

func (s *RealtimeSession) completeReply(response *serverResponse) {
	id := response.Metadata[replyMetadataKey]
	if id == "" {
		return
	}

	s.mu.Lock()
	handle, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	switch response.Status {
	case "completed", "":
		handle.finish(nil)
	case "cancelled":
		handle.finish(ErrReplyCancelled)
	default:
		handle.finish(fmt.Errorf("%w: status %s", ErrReplyFailed, response.Status))
	}
}

func (s *RealtimeSession) failPending(err error) {
	if err == nil {
		err = ErrSessionClosed
	}
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*replyHandle)
	s.mu.Unlock()

	for _, handle := range pending {
		handle.finish(err)
	}
}

type replyHandle struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReplyHandle() *replyHandle {
	return &replyHandle{done: make(chan struct{})}
}

func (h *replyHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *replyHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
