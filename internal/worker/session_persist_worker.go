package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

const (
	PersistBatchSize    = 50
	PersistBatchTimeout = 2 * time.Second
	PersistPollTimeout  = 1 * time.Second
)

// SessionReader loads the live copy of a session.
type SessionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
}

// SessionArchiver writes sessions to the durable tier.
type SessionArchiver interface {
	Upsert(ctx context.Context, s *model.ExamSession) error
	UpsertBatch(ctx context.Context, sessions []*model.ExamSession) error
}

// SessionPersistWorker consumes persist_sessions_queue and UPSERTs the latest
// copy of each queued session to PostgreSQL. Ids are de-duplicated per batch,
// so a burst of autosaves costs a single write.
type SessionPersistWorker struct {
	rdb     *redis.Client
	store   SessionReader
	archive SessionArchiver
	log     zerolog.Logger
}

// NewSessionPersistWorker creates a new SessionPersistWorker.
func NewSessionPersistWorker(rdb *redis.Client, store SessionReader, archive SessionArchiver, log zerolog.Logger) *SessionPersistWorker {
	return &SessionPersistWorker{
		rdb:     rdb,
		store:   store,
		archive: archive,
		log:     log.With().Str("component", "session_persist_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *SessionPersistWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	pending := make(map[uuid.UUID]struct{}, PersistBatchSize)
	lastFlush := time.Now()

	for {
		if len(pending) > 0 &&
			(len(pending) >= PersistBatchSize || time.Since(lastFlush) >= PersistBatchTimeout) {
			w.flush(ctx, pending)
			clear(pending)
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.flush(context.Background(), pending)
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			if id, ok := w.poll(ctx); ok {
				pending[id] = struct{}{}
			}
		}
	}
}

func (w *SessionPersistWorker) poll(ctx context.Context) (uuid.UUID, bool) {
	result, err := w.rdb.BLPop(ctx, PersistPollTimeout, config.WorkerKey.PersistSessionsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return uuid.Nil, false
	}
	if len(result) < 2 {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(result[1])
	if err != nil {
		w.log.Error().Err(err).Str("payload", result[1]).Msg("Invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// flush persists one batch. A failed batch falls back to per-session writes,
// and sessions that still fail go back on the queue. It returns how many
// sessions were requeued.
func (w *SessionPersistWorker) flush(ctx context.Context, ids map[uuid.UUID]struct{}) int {
	if len(ids) == 0 {
		return 0
	}
	requeued := 0

	sessions := make([]*model.ExamSession, 0, len(ids))
	for id := range ids {
		sess, err := w.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				w.log.Warn().Str("session_id", id.String()).Msg("Queued session no longer exists")
				continue
			}
			w.log.Error().Err(err).Str("session_id", id.String()).Msg("Load failed, requeueing")
			w.requeue(ctx, id)
			requeued++
			continue
		}
		sessions = append(sessions, sess)
	}

	err := w.archive.UpsertBatch(ctx, sessions)
	if err == nil {
		w.log.Debug().Int("count", len(sessions)).Msg("Batch persisted")
		return requeued
	}
	w.log.Warn().Err(err).Msg("Batch upsert failed, using fallback")

	for _, sess := range sessions {
		if err := w.archive.Upsert(ctx, sess); err != nil {
			w.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Persist failed, requeueing")
			w.requeue(ctx, sess.ID)
			requeued++
		}
	}
	return requeued
}

func (w *SessionPersistWorker) requeue(ctx context.Context, id uuid.UUID) {
	if err := w.rdb.RPush(ctx, config.WorkerKey.PersistSessionsQueue, id.String()).Err(); err != nil {
		w.log.Error().Err(err).Str("session_id", id.String()).Msg("Requeue failed")
	}
}

// drain persists everything left in the queue before shutdown. It stops at
// the first batch that could not be fully written, leaving the rest queued.
func (w *SessionPersistWorker) drain(ctx context.Context) {
	drained := 0
	for {
		ids := make(map[uuid.UUID]struct{}, PersistBatchSize)
		for len(ids) < PersistBatchSize {
			raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistSessionsQueue).Result()
			if err != nil {
				break
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				w.log.Error().Err(err).Msg("Drain parse error")
				continue
			}
			ids[id] = struct{}{}
		}
		if len(ids) == 0 {
			break
		}

		requeued := w.flush(ctx, ids)
		drained += len(ids) - requeued
		if requeued > 0 {
			w.log.Warn().Int("requeued", requeued).Msg("Drain stopped early")
			break
		}
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
