package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/config"
	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/metrics"
	"voice-call-orchestrator/pkg/models"
)

// Registry records calls in progress across all pods. It is operational
// visibility only; no call state is read back from it.
type Registry struct {
	rdb     *redis.Client
	config  *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func NewRegistry(rdb *redis.Client, config *config.Config, logger *logrus.Logger, metrics *metrics.Metrics) *Registry {
	return &Registry{
		rdb:     rdb,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// Track adds a call to the active set, scored by its start time
func (r *Registry) Track(ctx context.Context, callID string, startedAt time.Time) error {
	start := time.Now()
	defer func() {
		r.metrics.RedisOperationDuration.WithLabelValues("track_call").Observe(time.Since(start).Seconds())
	}()

	pipe := r.rdb.Pipeline()
	pipe.ZAdd(ctx, constants.ActiveCallsKey, &redis.Z{
		Score:  float64(startedAt.UnixMilli()),
		Member: callID,
	})
	pipe.HSet(ctx, constants.CallPhasesKey, callID, models.PhaseGreeting.String())

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).WithField("call_id", callID).Error("Failed to track call")
		return fmt.Errorf("failed to track call: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"call_id":    callID,
		"started_at": startedAt,
		"pod_id":     r.config.PodID,
	}).Debug("Tracking active call")

	return nil
}

// SetPhase records the latest workflow phase of a tracked call
func (r *Registry) SetPhase(ctx context.Context, callID string, phase models.Phase) error {
	start := time.Now()
	defer func() {
		r.metrics.RedisOperationDuration.WithLabelValues("set_phase").Observe(time.Since(start).Seconds())
	}()

	if err := r.rdb.HSet(ctx, constants.CallPhasesKey, callID, phase.String()).Err(); err != nil {
		return fmt.Errorf("failed to set call phase: %w", err)
	}
	return nil
}

// Release removes a finished call
func (r *Registry) Release(ctx context.Context, callID string) error {
	start := time.Now()
	defer func() {
		r.metrics.RedisOperationDuration.WithLabelValues("release_call").Observe(time.Since(start).Seconds())
	}()

	pipe := r.rdb.Pipeline()
	pipe.ZRem(ctx, constants.ActiveCallsKey, callID)
	pipe.HDel(ctx, constants.CallPhasesKey, callID)

	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).WithField("call_id", callID).Error("Failed to release call")
		return fmt.Errorf("failed to release call: %w", err)
	}

	r.logger.WithField("call_id", callID).Debug("Released active call")
	return nil
}

// Count returns the number of active calls across all pods
func (r *Registry) Count(ctx context.Context) (int64, error) {
	start := time.Now()
	defer func() {
		r.metrics.RedisOperationDuration.WithLabelValues("count_calls").Observe(time.Since(start).Seconds())
	}()

	count, err := r.rdb.ZCard(ctx, constants.ActiveCallsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count active calls: %w", err)
	}

	r.metrics.RegisteredCalls.Set(float64(count))
	return count, nil
}

// Phase returns the recorded phase of a call, or false when it is not tracked
func (r *Registry) Phase(ctx context.Context, callID string) (models.Phase, bool, error) {
	start := time.Now()
	defer func() {
		r.metrics.RedisOperationDuration.WithLabelValues("get_phase").Observe(time.Since(start).Seconds())
	}()

	raw, err := r.rdb.HGet(ctx, constants.CallPhasesKey, callID).Result()
	if err != nil {
		if err == redis.Nil {
			return models.PhaseGreeting, false, nil
		}
		return models.PhaseGreeting, false, fmt.Errorf("failed to get call phase: %w", err)
	}

	var phase models.Phase
	if err := phase.UnmarshalText([]byte(raw)); err != nil {
		return models.PhaseGreeting, false, fmt.Errorf("invalid phase format: %w", err)
	}
	return phase, true, nil
}

// CleanupStale removes calls that started more than maxAge ago. These are
// left behind by pods that died mid-call.
func (r *Registry) CleanupStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	start := time.Now()
	defer func() {
		r.metrics.RedisOperationDuration.WithLabelValues("cleanup_stale").Observe(time.Since(start).Seconds())
	}()

	cutoff := fmt.Sprintf("%d", time.Now().Add(-maxAge).UnixMilli())

	stale, err := r.rdb.ZRangeByScore(ctx, constants.ActiveCallsKey, &redis.ZRangeBy{
		Min: "0",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list stale calls: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	members := make([]interface{}, len(stale))
	fields := make([]string, len(stale))
	for i, callID := range stale {
		members[i] = callID
		fields[i] = callID
	}

	pipe := r.rdb.Pipeline()
	removed := pipe.ZRem(ctx, constants.ActiveCallsKey, members...)
	pipe.HDel(ctx, constants.CallPhasesKey, fields...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to cleanup stale calls: %w", err)
	}

	count := removed.Val()
	if count > 0 {
		r.metrics.RegistryCleanupRemoved.Add(float64(count))
		r.logger.WithFields(logrus.Fields{
			"removed_count": count,
			"max_age":       maxAge,
		}).Info("Cleaned up stale calls")
	}

	return count, nil
}
