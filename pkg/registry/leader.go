package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/metrics"
)

const (
	renewLeadershipScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("EXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	resignLeadershipScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

// Sweeper elects one pod to periodically remove stale calls from the registry
type Sweeper struct {
	rdb      *redis.Client
	registry *Registry
	config   *config.Config
	logger   *logrus.Logger
	metrics  *metrics.Metrics
	isLeader atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewSweeper(rdb *redis.Client, registry *Registry, config *config.Config, logger *logrus.Logger, metrics *metrics.Metrics) *Sweeper {
	return &Sweeper{
		rdb:      rdb,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Starting registry sweeper")

	s.tryBecomeLeader(ctx)
	go s.leaderElectionLoop(ctx)
	go s.cleanupLoop(ctx)
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.isLeader.Load() {
			s.resignLeadership(context.Background())
		}
	})
}

func (s *Sweeper) IsLeader() bool {
	return s.isLeader.Load()
}

func (s *Sweeper) leaderElectionLoop(ctx context.Context) {
	// Renew well within the lease
	interval := s.config.LeaderElectionTTLDuration() / 2
	if interval <= 0 {
		interval = constants.SecondsToDuration(constants.DefaultLeaderElectionTTLSeconds) / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryBecomeLeader(ctx)
		}
	}
}

func (s *Sweeper) tryBecomeLeader(ctx context.Context) {
	start := time.Now()
	defer func() {
		s.metrics.LeaderElectionDuration.Observe(time.Since(start).Seconds())
	}()

	if s.isLeader.Load() {
		s.renewLeadership(ctx)
		return
	}

	acquired, err := s.rdb.SetNX(ctx, constants.LeaderKey, s.config.PodID, s.config.LeaderElectionTTLDuration()).Result()
	if err != nil {
		s.logger.WithError(err).Error("Failed to attempt leader election")
		return
	}

	if acquired {
		s.isLeader.Store(true)
		s.metrics.RegistryLeaderChanges.Inc()
		s.logger.WithField("pod_id", s.config.PodID).Info("Became registry sweeper leader")
	}
}

func (s *Sweeper) renewLeadership(ctx context.Context) {
	result, err := s.rdb.Eval(ctx, renewLeadershipScript, []string{constants.LeaderKey}, s.config.PodID, int(s.config.LeaderElectionTTLDuration().Seconds())).Int64()
	if err != nil {
		s.logger.WithError(err).Error("Failed to renew leadership")
		s.isLeader.Store(false)
		return
	}

	if result == 0 {
		s.logger.Warn("Leadership renewal failed - no longer leader")
		s.isLeader.Store(false)
	}
}

func (s *Sweeper) resignLeadership(ctx context.Context) {
	if err := s.rdb.Eval(ctx, resignLeadershipScript, []string{constants.LeaderKey}, s.config.PodID).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to resign leadership")
	} else {
		s.logger.Info("Resigned leadership")
	}
	s.isLeader.Store(false)
}

func (s *Sweeper) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.RegistryCleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.isLeader.Load() {
				continue
			}
			if _, err := s.registry.CleanupStale(ctx, s.config.RegistryMaxAge()); err != nil {
				s.logger.WithError(err).Error("Failed to cleanup stale calls")
			}
			if _, err := s.registry.Count(ctx); err != nil {
				s.logger.WithError(err).Warn("Failed to count active calls")
			}
		}
	}
}
