package callcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/metrics"
)

const (
	createSIPParticipantPath = "/twirp/livekit.SIP/CreateSIPParticipant"
	deleteRoomPath           = "/twirp/livekit.RoomService/DeleteRoom"
	accessTokenTTL           = 10 * time.Minute
	requestTimeout           = 45 * time.Second
)

var ErrRequestFailed = errors.New("call control request failed")

type LiveKitConfig struct {
	URL             string
	APIKey          string
	APISecret       string
	RingingTimeout  time.Duration
	MaxCallDuration time.Duration
}

// LiveKitClient implements Controller against the LiveKit server API
type LiveKitClient struct {
	config     LiveKitConfig
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

func NewLiveKitClient(config LiveKitConfig, logger *logrus.Logger, metrics *metrics.Metrics) *LiveKitClient {
	if config.RingingTimeout <= 0 {
		config.RingingTimeout = constants.SecondsToDuration(constants.DefaultRingingTimeoutSeconds)
	}
	if config.MaxCallDuration <= 0 {
		config.MaxCallDuration = constants.SecondsToDuration(constants.DefaultMaxCallDurationSeconds)
	}
	config.URL = httpBaseURL(config.URL)

	return &LiveKitClient{
		config:     config,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// httpBaseURL maps ws(s):// server URLs to their http(s) API base
func httpBaseURL(raw string) string {
	raw = strings.TrimRight(raw, "/")
	switch {
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	}
	return raw
}

// CreateSIPParticipant dials destination through the outbound trunk and
// joins the callee to room. It returns once the call is answered.
func (c *LiveKitClient) CreateSIPParticipant(ctx context.Context, trunkID, destination, room string) (*Participant, error) {
	start := time.Now()
	defer func() {
		c.metrics.CallControlDuration.WithLabelValues("create_sip_participant").Observe(time.Since(start).Seconds())
	}()

	if trunkID == "" {
		return nil, fmt.Errorf("%w: outbound trunk id is not configured", ErrRequestFailed)
	}

	identity := "sip_" + strings.TrimPrefix(destination, "+")
	request := map[string]any{
		"sip_trunk_id":         trunkID,
		"sip_call_to":          destination,
		"room_name":            room,
		"participant_identity": identity,
		"participant_name":     destination,
		"wait_until_answered":  true,
		"ringing_timeout":      durationString(c.config.RingingTimeout),
		"max_call_duration":    durationString(c.config.MaxCallDuration),
	}

	var participant Participant
	if err := c.call(ctx, createSIPParticipantPath, room, request, &participant); err != nil {
		return nil, fmt.Errorf("failed to create SIP participant: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"room":           room,
		"participant_id": participant.ID,
		"sip_call_id":    participant.SIPCallID,
	}).Debug("SIP participant created")

	return &participant, nil
}

// DeleteRoom ends the call for every participant in room
func (c *LiveKitClient) DeleteRoom(ctx context.Context, room string) error {
	start := time.Now()
	defer func() {
		c.metrics.CallControlDuration.WithLabelValues("delete_room").Observe(time.Since(start).Seconds())
	}()

	if err := c.call(ctx, deleteRoomPath, room, map[string]string{"room": room}, nil); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}

	c.logger.WithField("room", room).Debug("Deleted room")
	return nil
}

func (c *LiveKitClient) call(ctx context.Context, path, room string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	token, err := c.accessToken(room)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var twirpErr struct {
			Code string `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(payload, &twirpErr) == nil && twirpErr.Code != "" {
			return fmt.Errorf("%w: %s: %s", ErrRequestFailed, twirpErr.Code, twirpErr.Msg)
		}
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if response != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// accessToken signs a short-lived server token with room admin and SIP grants
func (c *LiveKitClient) accessToken(room string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": c.config.APIKey,
		"sub": "voice-call-orchestrator",
		"nbf": now.Unix(),
		"exp": now.Add(accessTokenTTL).Unix(),
		"video": map[string]any{
			"roomAdmin":  true,
			"roomCreate": true,
			"room":       room,
		},
		"sip": map[string]any{
			"admin": true,
			"call":  true,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.config.APISecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func durationString(d time.Duration) string {
	return fmt.Sprintf("%ds", int64(d/time.Second))
}
