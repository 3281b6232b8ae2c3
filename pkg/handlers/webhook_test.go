package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedWebhook(t *testing.T, key, secret string, body []byte) *http.Request {
	t.Helper()
	sum := sha256.Sum256(body)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":    key,
		"exp":    time.Now().Add(time.Minute).Unix(),
		"sha256": base64.StdEncoding.EncodeToString(sum[:]),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/livekit/webhook", bytes.NewReader(body))
	req.Header.Set("Authorization", signed)
	return req
}

func startInbound(t *testing.T, router http.Handler, room string) string {
	t.Helper()
	rec := serve(router, "POST", "/calls/inbound", []byte(`{"room":"`+room+`"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	callID, _ := decode(t, rec)["call_id"].(string)
	require.NotEmpty(t, callID)
	return callID
}

func TestLiveKitWebhook_ParticipantLeftEndsCall(t *testing.T) {
	router := setupRouter(t, nil)
	callID := startInbound(t, router, "support-room")

	rec := serve(router, "POST", "/livekit/webhook", []byte(`{"event":"participant_left","room":{"name":"support-room"},"participant":{"identity":"sip_46701234567"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["handled"])
	assert.Equal(t, callID, body["call_id"])

	require.Eventually(t, func() bool {
		return serve(router, "GET", "/calls/"+callID, nil).Code == http.StatusNotFound
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLiveKitWebhook_IgnoredEvents(t *testing.T) {
	router := setupRouter(t, nil)
	callID := startInbound(t, router, "support-room")

	rec := serve(router, "POST", "/livekit/webhook", []byte(`{"event":"track_published","room":{"name":"support-room"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["handled"])

	rec = serve(router, "POST", "/livekit/webhook", []byte(`{"event":"participant_left","room":{"name":"other-room"}}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["handled"])

	assert.Equal(t, http.StatusOK, serve(router, "GET", "/calls/"+callID, nil).Code)

	rec = serve(router, "POST", "/livekit/webhook", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveKitWebhook_Signature(t *testing.T) {
	router := setupRouterWithAuth(t, nil, WebhookAuth{APIKey: "APIkey", APISecret: "secret"})
	startInbound(t, router, "support-room")
	body := []byte(`{"event":"room_finished","room":{"name":"support-room"}}`)

	rec := serve(router, "POST", "/livekit/webhook", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhook(t, "APIkey", "wrong", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("POST", "/livekit/webhook", bytes.NewReader(body))
	req.Header.Set("Authorization", signedWebhook(t, "APIkey", "secret", []byte(`{}`)).Header.Get("Authorization"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "body must match the signed hash")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhook(t, "APIkey", "secret", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["handled"])
}
