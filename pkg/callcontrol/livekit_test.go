package callcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-call-orchestrator/pkg/metrics"
)

const (
	testAPIKey    = "APIkey123"
	testAPISecret = "super-secret-value"
)

type capturedRequest struct {
	path   string
	body   map[string]any
	claims jwt.MapClaims
}

func setupLiveKit(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*LiveKitClient, chan capturedRequest) {
	t.Helper()

	captured := make(chan capturedRequest, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		claims := jwt.MapClaims{}
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(testAPISecret), nil
		})
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"unauthenticated","msg":"invalid token"}`))
			return
		}

		captured <- capturedRequest{path: r.URL.Path, body: body, claims: claims}
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	client := NewLiveKitClient(LiveKitConfig{
		URL:       server.URL,
		APIKey:    testAPIKey,
		APISecret: testAPISecret,
	}, logger, metrics.NewMetrics(prometheus.NewRegistry()))

	return client, captured
}

func TestLiveKitClient_CreateSIPParticipant(t *testing.T) {
	client, captured := setupLiveKit(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"participant_id":"PA_1","participant_identity":"sip_46701234567","room_name":"call-1","sip_call_id":"SCL_1"}`))
	})

	participant, err := client.CreateSIPParticipant(context.Background(), "ST_trunk", "+46701234567", "call-1")
	require.NoError(t, err)
	assert.Equal(t, "PA_1", participant.ID)
	assert.Equal(t, "SCL_1", participant.SIPCallID)

	req := <-captured
	assert.Equal(t, createSIPParticipantPath, req.path)
	assert.Equal(t, "ST_trunk", req.body["sip_trunk_id"])
	assert.Equal(t, "+46701234567", req.body["sip_call_to"])
	assert.Equal(t, "call-1", req.body["room_name"])
	assert.Equal(t, true, req.body["wait_until_answered"])
	assert.Equal(t, "30s", req.body["ringing_timeout"])
	assert.Equal(t, "600s", req.body["max_call_duration"])

	assert.Equal(t, testAPIKey, req.claims["iss"])
	sip, ok := req.claims["sip"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, sip["call"])
	video, ok := req.claims["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "call-1", video["room"])
}

func TestLiveKitClient_CreateSIPParticipantLeavesAnswerLogToCaller(t *testing.T) {
	client, _ := setupLiveKit(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"participant_id":"PA_1","sip_call_id":"SCL_1"}`))
	})
	client.logger.SetLevel(logrus.DebugLevel)
	hook := test.NewLocal(client.logger)

	_, err := client.CreateSIPParticipant(context.Background(), "ST_trunk", "+46701234567", "call-1")
	require.NoError(t, err)

	var created bool
	for _, entry := range hook.AllEntries() {
		assert.NotEqual(t, "Outbound call answered", entry.Message)
		if entry.Message == "SIP participant created" {
			created = true
			assert.Equal(t, logrus.DebugLevel, entry.Level)
		}
	}
	assert.True(t, created)
}

func TestLiveKitClient_CreateSIPParticipantRequiresTrunk(t *testing.T) {
	client, captured := setupLiveKit(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.CreateSIPParticipant(context.Background(), "", "+46701234567", "call-1")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Len(t, captured, 0)
}

func TestLiveKitClient_TwirpError(t *testing.T) {
	client, _ := setupLiveKit(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"not_found","msg":"room not found"}`))
	})

	err := client.DeleteRoom(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "room not found")
}

func TestLiveKitClient_DeleteRoom(t *testing.T) {
	client, captured := setupLiveKit(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, client.DeleteRoom(context.Background(), "call-7"))

	req := <-captured
	assert.Equal(t, deleteRoomPath, req.path)
	assert.Equal(t, "call-7", req.body["room"])
}

func TestLiveKitClient_ContextCancelled(t *testing.T) {
	client, _ := setupLiveKit(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, client.DeleteRoom(ctx, "call-8"), ErrRequestFailed)
}

func TestHTTPBaseURL(t *testing.T) {
	assert.Equal(t, "https://lk.example.com", httpBaseURL("wss://lk.example.com/"))
	assert.Equal(t, "http://localhost:7880", httpBaseURL("ws://localhost:7880"))
	assert.Equal(t, "https://lk.example.com", httpBaseURL("https://lk.example.com"))
}
