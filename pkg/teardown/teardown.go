package teardown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"voice-call-orchestrator/pkg/constants"
	"voice-call-orchestrator/pkg/metrics"
	"voice-call-orchestrator/pkg/speech"
)

// Speaker says a last line before the call ends
type Speaker interface {
	GenerateReply(ctx context.Context, instructions string) (speech.ReplyHandle, error)
}

// RoomDeleter ends the call on the telephony side
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, room string) error
}

type Config struct {
	CallID          string
	Room            string
	FarewellTimeout time.Duration
	FallbackTimeout time.Duration
}

// Teardown runs the farewell-then-hang-up sequence for one call. The sequence
// runs at most once; later calls return the first result.
type Teardown struct {
	speaker Speaker
	rooms   RoomDeleter
	config  Config
	logger  *logrus.Logger
	metrics *metrics.Metrics

	once sync.Once
	done atomic.Bool
	err  error
}

func New(speaker Speaker, rooms RoomDeleter, config Config, logger *logrus.Logger, metrics *metrics.Metrics) *Teardown {
	if config.FarewellTimeout <= 0 {
		config.FarewellTimeout = constants.SecondsToDuration(constants.DefaultFarewellTimeoutSeconds)
	}
	if config.FallbackTimeout <= 0 {
		config.FallbackTimeout = constants.SecondsToDuration(constants.DefaultTeardownFallbackTimeoutSeconds)
	}
	return &Teardown{
		speaker: speaker,
		rooms:   rooms,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

func (t *Teardown) Done() bool {
	return t.done.Load()
}

// Run speaks farewell (when non-empty), waits for it up to the farewell
// timeout and deletes the room. A failed deletion is retried once on a
// fresh context.
func (t *Teardown) Run(ctx context.Context, farewell string) error {
	t.once.Do(func() {
		start := time.Now()
		defer func() {
			t.metrics.TeardownDuration.Observe(time.Since(start).Seconds())
			t.done.Store(true)
		}()

		t.sayFarewell(ctx, farewell)
		t.err = t.deleteRoom(ctx)
	})
	return t.err
}

func (t *Teardown) sayFarewell(ctx context.Context, farewell string) {
	if farewell == "" || t.speaker == nil {
		return
	}

	farewellCtx, cancel := context.WithTimeout(ctx, t.config.FarewellTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		t.metrics.ReplyWaitDuration.WithLabelValues("farewell").Observe(time.Since(start).Seconds())
	}()

	handle, err := t.speaker.GenerateReply(farewellCtx, farewell)
	if err != nil {
		t.logger.WithError(err).WithField("call_id", t.config.CallID).Warn("Failed to send farewell, ending call")
		return
	}
	if err := handle.Wait(farewellCtx); err != nil {
		t.logger.WithError(err).WithField("call_id", t.config.CallID).Warn("Farewell did not finish, ending call")
	}
}

func (t *Teardown) deleteRoom(ctx context.Context) error {
	if t.config.Room == "" || t.rooms == nil {
		return nil
	}

	err := t.rooms.DeleteRoom(ctx, t.config.Room)
	if err == nil {
		t.logger.WithFields(logrus.Fields{
			"call_id": t.config.CallID,
			"room":    t.config.Room,
		}).Info("Call ended")
		return nil
	}

	t.logger.WithError(err).WithField("call_id", t.config.CallID).Warn("Room deletion failed, retrying on fallback path")

	fallbackCtx, cancel := context.WithTimeout(context.Background(), t.config.FallbackTimeout)
	defer cancel()

	if err := t.rooms.DeleteRoom(fallbackCtx, t.config.Room); err != nil {
		t.metrics.TeardownFallbacks.WithLabelValues("failed").Inc()
		t.logger.WithError(err).WithField("call_id", t.config.CallID).Error("Fallback room deletion failed")
		return fmt.Errorf("failed to end call: %w", err)
	}

	t.metrics.TeardownFallbacks.WithLabelValues("success").Inc()
	t.logger.WithField("call_id", t.config.CallID).Info("Call ended via fallback path")
	return nil
}
