package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

const (
	RegradePollTimeout = 1 * time.Second
	RegradeRetryDelay  = 5 * time.Second
)

// RegradeQueue is the Redis list of submitted sessions still waiting for auto-grading.
type RegradeQueue struct {
	rdb *redis.Client
}

// NewRegradeQueue creates a RegradeQueue on rdb.
func NewRegradeQueue(rdb *redis.Client) *RegradeQueue {
	return &RegradeQueue{rdb: rdb}
}

// Enqueue schedules a session for regrading.
func (q *RegradeQueue) Enqueue(ctx context.Context, sessionID uuid.UUID) error {
	return q.rdb.RPush(ctx, config.WorkerKey.RegradeQueue, sessionID.String()).Err()
}

// Regrader re-runs auto-grading of one session.
type Regrader interface {
	Regrade(ctx context.Context, sessionID uuid.UUID) error
}

// RegradeWorker retries auto-grading for sessions that were submitted while
// their exam definition could not be loaded.
type RegradeWorker struct {
	rdb        *redis.Client
	engine     Regrader
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewRegradeWorker creates a new RegradeWorker.
func NewRegradeWorker(rdb *redis.Client, engine Regrader, log zerolog.Logger) *RegradeWorker {
	return &RegradeWorker{
		rdb:        rdb,
		engine:     engine,
		retryDelay: RegradeRetryDelay,
		log:        log.With().Str("component", "regrade_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *RegradeWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

// processNext handles one queued session. It returns false when the queue was empty.
func (w *RegradeWorker) processNext(ctx context.Context) bool {
	result, err := w.rdb.BLPop(ctx, RegradePollTimeout, config.WorkerKey.RegradeQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return false
	}
	if len(result) < 2 {
		return false
	}

	id, err := uuid.Parse(result[1])
	if err != nil {
		w.log.Error().Err(err).Str("payload", result[1]).Msg("Invalid session id")
		return true
	}

	if err := w.engine.Regrade(ctx, id); err != nil {
		w.log.Warn().Err(err).
			Str("session_id", id.String()).
			Dur("retry_in", w.retryDelay).
			Msg("Regrade failed, requeueing")
		w.rdb.RPush(context.Background(), config.WorkerKey.RegradeQueue, result[1])

		timer := time.NewTimer(w.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		return true
	}

	w.log.Info().Str("session_id", id.String()).Msg("Session regraded")
	return true
}
