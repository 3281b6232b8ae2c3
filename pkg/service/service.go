package service

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/callcontrol"
	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/dispatch"
	"voice-call-orchestrator/pkg/handlers"
	"voice-call-orchestrator/pkg/metrics"
	redisClient "voice-call-orchestrator/pkg/redis"
	"voice-call-orchestrator/pkg/registry"
	"voice-call-orchestrator/pkg/server"
	"voice-call-orchestrator/pkg/speech"
	"voice-call-orchestrator/pkg/workflow"
)

// Service owns the call dispatcher, the optional Redis registry and the
// HTTP API
type Service struct {
	config   *config.Config
	workflow *config.Workflow
	gatherer prometheus.Gatherer
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	redis         *redisClient.Client
	registry      *registry.Registry
	sweeper       *registry.Sweeper
	manager       *dispatch.Manager
	server        *http.Server
	metricsServer *http.Server
}

func NewService(config *config.Config, wf *config.Workflow, gatherer prometheus.Gatherer, logger *logrus.Logger, metrics *metrics.Metrics) *Service {
	return &Service{
		config:   config,
		workflow: wf,
		gatherer: gatherer,
		logger:   logger,
		metrics:  metrics,
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting voice call orchestrator")

	if s.config.RegistryEnabled {
		s.connectRegistry(ctx)
	}

	controller := callcontrol.NewLiveKitClient(callcontrol.LiveKitConfig{
		URL:             s.config.LiveKitURL,
		APIKey:          s.config.LiveKitAPIKey,
		APISecret:       s.config.LiveKitAPISecret,
		MaxCallDuration: s.workflow.MaxCallDuration(),
	}, s.logger, s.metrics)

	realtime := speech.RealtimeConfig{
		URL:    s.config.RealtimeURL,
		APIKey: s.config.RealtimeAPIKey,
		Model:  s.config.RealtimeModel,
		Tools:  workflow.ToolDefinitions(),
	}
	newSession := func() speech.Session {
		return speech.NewRealtimeSession(realtime, s.logger, s.metrics)
	}

	// A nil *Registry must not reach the manager as a non-nil interface
	var calls dispatch.CallRegistry
	var counter handlers.CallCounter
	var isLeader func() bool
	if s.registry != nil {
		calls = s.registry
		counter = s.registry
		isLeader = s.sweeper.IsLeader
	}

	s.manager = dispatch.NewManager(controller, s.workflow, calls, newSession, s.config, s.logger, s.metrics)

	handler := handlers.NewHandler(s.manager, counter, s.config.PodID, s.logger, isLeader).WithWebhookAuth(handlers.WebhookAuth{
		APIKey:    s.config.LiveKitAPIKey,
		APISecret: s.config.LiveKitAPISecret,
	})
	s.server = server.NewHTTPServer(s.config, handler, s.gatherer, s.logger)
	s.metricsServer = server.NewMetricsServer(s.config, s.gatherer)

	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	if s.metricsServer != nil {
		go func() {
			s.logger.WithField("port", s.config.MetricsPort).Info("Starting metrics server")
			if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	s.logger.WithFields(logrus.Fields{
		"pod_id":        s.config.PodID,
		"workflow":      s.workflow.Type(),
		"registry":      s.registry != nil,
		"initial_agent": s.workflow.InitialPersonaName(),
	}).Info("Voice call orchestrator started")
	return nil
}

// connectRegistry enables cross-pod call tracking. Calls still run when
// Redis is unreachable.
func (s *Service) connectRegistry(ctx context.Context) {
	client, err := redisClient.Connect(ctx, redisClient.DefaultConnectionConfig(s.config.RedisURL), s.logger)
	if err != nil {
		s.logger.WithError(err).Warn("Redis unavailable, running without call registry")
		return
	}

	s.redis = client
	s.registry = registry.NewRegistry(client.Redis(), s.config, s.logger, s.metrics)
	s.sweeper = registry.NewSweeper(client.Redis(), s.registry, s.config, s.logger, s.metrics)
	s.sweeper.Start(ctx)
}

// Manager exposes the dispatcher for in-process callers
func (s *Service) Manager() *dispatch.Manager {
	return s.manager
}

func (s *Service) IsLeader() bool {
	return s.sweeper != nil && s.sweeper.IsLeader()
}

func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping voice call orchestrator")

	var firstErr error

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
			firstErr = err
		}
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close metrics server")
		}
	}

	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Error("Calls did not finish before shutdown deadline")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close Redis client")
		}
	}

	if firstErr != nil {
		return fmt.Errorf("failed to stop service: %w", firstErr)
	}

	s.logger.Info("Voice call orchestrator stopped")
	return nil
}
