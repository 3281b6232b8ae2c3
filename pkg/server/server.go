package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/handlers"
)

// NewRouter wires the call API. A non-nil gatherer is also served on
// /metrics.
func NewRouter(handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *mux.Router {
	router := mux.NewRouter()

	// Call API
	router.HandleFunc("/calls", handler.StartOutboundCall).Methods("POST")
	router.HandleFunc("/calls/inbound", handler.StartInboundCall).Methods("POST")
	router.HandleFunc("/calls/{id}", handler.GetCall).Methods("GET")
	router.HandleFunc("/calls/{id}/hangup", handler.HangupCall).Methods("POST")
	router.HandleFunc("/health", handler.Health).Methods("GET")
	router.HandleFunc("/status", handler.Status).Methods("GET")

	// LiveKit room events
	router.HandleFunc("/livekit/webhook", handler.LiveKitWebhook).Methods("POST")

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	router.Use(loggingMiddleware(logger))

	return router
}

func NewHTTPServer(config *config.Config, handler *handlers.Handler, gatherer prometheus.Gatherer, logger *logrus.Logger) *http.Server {
	if separateMetrics(config) {
		gatherer = nil
	}
	return &http.Server{
		Addr:         ":" + config.Port,
		Handler:      NewRouter(handler, gatherer, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMetricsServer serves /metrics on MetricsPort. It returns nil when
// metrics share the API port.
func NewMetricsServer(config *config.Config, gatherer prometheus.Gatherer) *http.Server {
	if !separateMetrics(config) {
		return nil
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	return &http.Server{
		Addr:         ":" + config.MetricsPort,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func separateMetrics(config *config.Config) bool {
	return config.MetricsPort != "" && config.MetricsPort != config.Port
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   recorder.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Debug("HTTP request processed")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
