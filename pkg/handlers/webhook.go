package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/dispatch"
	"voice-call-orchestrator/pkg/workflow"
)

const maxWebhookBody = 1 << 20

const (
	eventParticipantLeft = "participant_left"
	eventRoomFinished    = "room_finished"
)

var (
	errMissingWebhookToken = errors.New("missing webhook token")
	errWebhookBodyMismatch = errors.New("webhook body does not match token hash")
)

// WebhookAuth holds the LiveKit API key pair webhooks are signed with. An
// empty secret disables verification.
type WebhookAuth struct {
	APIKey    string
	APISecret string
}

type liveKitEvent struct {
	Event string `json:"event"`
	Room  struct {
		Name string `json:"name"`
	} `json:"room"`
	Participant struct {
		Identity string `json:"identity"`
	} `json:"participant"`
}

// WithWebhookAuth enables signature checks on LiveKit webhooks
func (h *Handler) WithWebhookAuth(auth WebhookAuth) *Handler {
	h.webhookAuth = auth
	return h
}

// LiveKitWebhook ends the call in a room once the caller leaves it or the
// room is closed. Rooms owned by another pod are acknowledged and ignored.
func (h *Handler) LiveKitWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.webhookAuth.verify(r.Header.Get("Authorization"), body); err != nil {
		h.logger.WithError(err).Warn("Rejected LiveKit webhook")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var event liveKitEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var reason string
	switch event.Event {
	case eventParticipantLeft:
		reason = workflow.ReasonCallerDisconnected
	case eventRoomFinished:
		reason = workflow.ReasonRoomFinished
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"handled": false})
		return
	}

	callID, err := h.calls.HangupRoom(event.Room.Name, reason)
	if errors.Is(err, dispatch.ErrCallNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"handled": false})
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("room", event.Room.Name).Error("Failed to end call for room event")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"call_id":     callID,
		"room":        event.Room.Name,
		"event":       event.Event,
		"participant": event.Participant.Identity,
	}).Info("Room event ended call")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"handled": true,
		"call_id": callID,
	})
}

// verify checks the HS256 token LiveKit sends in the Authorization header
// and the body hash it carries
func (a WebhookAuth) verify(header string, body []byte) error {
	if a.APISecret == "" {
		return nil
	}

	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return errMissingWebhookToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return []byte(a.APISecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.APIKey))
	if err != nil {
		return fmt.Errorf("failed to verify webhook token: %w", err)
	}

	sum := sha256.Sum256(body)
	if hash, _ := claims["sha256"].(string); hash != base64.StdEncoding.EncodeToString(sum[:]) {
		return errWebhookBodyMismatch
	}
	return nil
}
