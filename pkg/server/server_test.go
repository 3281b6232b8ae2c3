package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/dispatch"
	"voice-call-orchestrator/pkg/handlers"
	"voice-call-orchestrator/pkg/metrics"
)

func TestRouter(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	manager := dispatch.NewManager(nil, &config.Workflow{}, nil, nil, &config.Config{}, logger, m)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	}()

	router := NewRouter(handlers.NewHandler(manager, nil, "pod-1", logger, nil), reg, logger)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/status", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/calls/unknown", http.StatusNotFound},
		{"POST", "/calls/unknown/hangup", http.StatusNotFound},
		{"POST", "/calls/inbound", http.StatusBadRequest},
		{"POST", "/livekit/webhook", http.StatusBadRequest},
		{"DELETE", "/calls/unknown", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(""))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestNewHTTPServer(t *testing.T) {
	logger := logrus.New()
	reg := prometheus.NewRegistry()
	manager := dispatch.NewManager(nil, &config.Workflow{}, nil, nil, &config.Config{}, logger, metrics.NewMetrics(reg))

	srv := NewHTTPServer(&config.Config{Port: "8080"}, handlers.NewHandler(manager, nil, "pod-1", logger, nil), reg, logger)

	assert.Equal(t, ":8080", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, NewMetricsServer(&config.Config{Port: "8080", MetricsPort: "8080"}, reg))
}

func TestNewMetricsServer_SeparatePort(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	manager := dispatch.NewManager(nil, &config.Workflow{}, nil, nil, &config.Config{}, logger, m)
	cfg := &config.Config{Port: "8080", MetricsPort: "9090"}

	api := NewHTTPServer(cfg, handlers.NewHandler(manager, nil, "pod-1", logger, nil), reg, logger)
	rec := httptest.NewRecorder()
	api.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv := NewMetricsServer(cfg, reg)
	require.NotNil(t, srv)
	assert.Equal(t, ":9090", srv.Addr)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
