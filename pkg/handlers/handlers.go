package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/dispatch"
	"voice-call-orchestrator/pkg/models"
	"voice-call-orchestrator/pkg/workflow"
)

// CallManager starts and controls calls running in this process
type CallManager interface {
	StartOutbound(ctx context.Context, req models.OutboundCallRequest) (*workflow.Orchestrator, error)
	StartInbound(ctx context.Context, room string, metadata map[string]string) (*workflow.Orchestrator, error)
	Get(callID string) (*workflow.Orchestrator, bool)
	Hangup(callID, reason string) error
	HangupRoom(room, reason string) (string, error)
	Count() int
}

// CallCounter reports calls active across all pods
type CallCounter interface {
	Count(ctx context.Context) (int64, error)
}

type Handler struct {
	calls        CallManager
	registry     CallCounter
	podID        string
	logger       *logrus.Logger
	isLeaderFunc func() bool
	webhookAuth  WebhookAuth
}

// NewHandler creates the HTTP handlers. registry and isLeaderFunc may be nil
// when the service runs without Redis.
func NewHandler(calls CallManager, registry CallCounter, podID string, logger *logrus.Logger, isLeaderFunc func() bool) *Handler {
	if isLeaderFunc == nil {
		isLeaderFunc = func() bool { return false }
	}
	return &Handler{
		calls:        calls,
		registry:     registry,
		podID:        podID,
		logger:       logger,
		isLeaderFunc: isLeaderFunc,
	}
}

func (h *Handler) StartOutboundCall(w http.ResponseWriter, r *http.Request) {
	var request models.OutboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	call, err := h.calls.StartOutbound(r.Context(), request)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"call_id": call.CallID(),
		"room":    call.Status().Room,
		"status":  "dialing",
	})

	h.logger.WithField("call_id", call.CallID()).Debug("Accepted outbound call")
}

func (h *Handler) StartInboundCall(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Room     string            `json:"room"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	call, err := h.calls.StartInbound(r.Context(), request.Room, request.Metadata)
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"call_id": call.CallID(),
		"room":    request.Room,
		"status":  "answering",
	})
}

func (h *Handler) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrInvalidPhone), errors.Is(err, dispatch.ErrMissingRoom), errors.Is(err, workflow.ErrMissingDestination):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispatch.ErrShuttingDown):
		http.Error(w, "Service is shutting down", http.StatusServiceUnavailable)
	default:
		h.logger.WithError(err).Error("Failed to start call")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]
	if callID == "" {
		http.Error(w, "Missing call ID", http.StatusBadRequest)
		return
	}

	call, ok := h.calls.Get(callID)
	if !ok {
		http.Error(w, "Call not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, call.Status())
}

func (h *Handler) HangupCall(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]
	if callID == "" {
		http.Error(w, "Missing call ID", http.StatusBadRequest)
		return
	}

	var request struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := h.calls.Hangup(callID, request.Reason); err != nil {
		if errors.Is(err, dispatch.ErrCallNotFound) {
			http.Error(w, "Call not found", http.StatusNotFound)
			return
		}
		h.logger.WithError(err).WithField("call_id", callID).Error("Failed to hang up call")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"call_id": callID,
	})

	h.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"reason":  request.Reason,
	}).Info("Hangup requested")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":       "healthy",
		"is_leader":    h.isLeaderFunc(),
		"active_calls": h.calls.Count(),
		"timestamp":    time.Now(),
	}

	if h.registry != nil {
		count, err := h.registry.Count(r.Context())
		if err != nil {
			http.Error(w, "Health check failed", http.StatusServiceUnavailable)
			return
		}
		response["registered_calls"] = count
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"pod_id":           h.podID,
		"is_leader":        h.isLeaderFunc(),
		"active_calls":     h.calls.Count(),
		"registry_enabled": h.registry != nil,
		"timestamp":        time.Now(),
	}

	if h.registry != nil {
		count, err := h.registry.Count(r.Context())
		if err != nil {
			http.Error(w, "Failed to get status", http.StatusInternalServerError)
			return
		}
		response["registered_calls"] = count
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
