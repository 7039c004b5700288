package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// SessionStore is the read/write surface the session engine works against.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
	Save(ctx context.Context, s *model.ExamSession) error
	DueForDeadline(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ForgetDeadline(ctx context.Context, id uuid.UUID) error
}

// SessionArchive is the durable tier consulted when Redis misses.
type SessionArchive interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
}

// RedisSessionStore keeps live sessions in Redis as JSON, indexes ACTIVE ones
// by deadline, and queues every write for the Postgres persist worker.
type RedisSessionStore struct {
	rdb     *redis.Client
	archive SessionArchive
	log     zerolog.Logger
}

// NewRedisSessionStore creates a RedisSessionStore. archive may be nil.
func NewRedisSessionStore(rdb *redis.Client, archive SessionArchive, log zerolog.Logger) *RedisSessionStore {
	return &RedisSessionStore{
		rdb:     rdb,
		archive: archive,
		log:     log.With().Str("component", "session_store").Logger(),
	}
}

// Get loads a session, falling back to the archive and re-caching on a miss.
func (s *RedisSessionStore) Get(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	raw, err := s.rdb.Get(ctx, config.CacheKey.SessionKey(id.String())).Bytes()
	if err == nil {
		return decodeSession(raw)
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if s.archive == nil {
		return nil, ErrNotFound
	}

	sess, err := s.archive.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.heal(ctx, sess)
	return sess, nil
}

// GetByExamAndStudent resolves the (student, exam) index then loads the session.
func (s *RedisSessionStore) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	idx := config.CacheKey.StudentExamSessionKey(examID.String(), studentID)
	raw, err := s.rdb.Get(ctx, idx).Result()
	if err == nil {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			return nil, fmt.Errorf("corrupt session index %s: %w", idx, perr)
		}
		return s.Get(ctx, id)
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get session index: %w", err)
	}
	if s.archive == nil {
		return nil, ErrNotFound
	}

	sess, err := s.archive.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	s.heal(ctx, sess)
	return sess, nil
}

// Create stores a brand-new session at revision 1.
// Callers hold the (student, exam) lock, so the index is written unconditionally.
func (s *RedisSessionStore) Create(ctx context.Context, sess *model.ExamSession) error {
	sess.Revision = 1
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, sess, raw)
		pipe.Set(ctx, config.CacheKey.StudentExamSessionKey(sess.ExamID.String(), sess.StudentID), sess.ID.String(), 0)
		return nil
	})
	if err != nil {
		sess.Revision = 0
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Save writes sess if the stored revision still equals sess.Revision, then bumps it.
// A mismatch returns ErrConflict and leaves sess untouched.
func (s *RedisSessionStore) Save(ctx context.Context, sess *model.ExamSession) error {
	key := config.CacheKey.SessionKey(sess.ID.String())
	expected := sess.Revision

	next := *sess
	next.Revision = expected + 1
	raw, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// Evicted or never cached: accept only if the archive agrees on the revision.
			if expected != 0 && !s.archivedAt(ctx, sess.ID, expected) {
				return ErrConflict
			}
		case err != nil:
			return err
		default:
			rev, err := storedRevision(current)
			if err != nil {
				return err
			}
			if rev != expected {
				return ErrConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, &next, raw)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("save session: %w", err)
	}

	sess.Revision = next.Revision
	return nil
}

// DueForDeadline returns ids of ACTIVE sessions whose deadline is at or before now.
func (s *RedisSessionStore) DueForDeadline(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	members, err := s.rdb.ZRangeByScore(ctx, config.CacheKey.SessionDeadlinesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range deadlines: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			s.log.Warn().Str("member", m).Msg("Dropping malformed deadline entry")
			s.rdb.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ForgetDeadline drops a session from the deadline index.
func (s *RedisSessionStore) ForgetDeadline(ctx context.Context, id uuid.UUID) error {
	return s.rdb.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), id.String()).Err()
}

// write queues the session body, its deadline index entry, and a persist job.
func (s *RedisSessionStore) write(ctx context.Context, pipe redis.Pipeliner, sess *model.ExamSession, raw []byte) {
	id := sess.ID.String()
	pipe.Set(ctx, config.CacheKey.SessionKey(id), raw, 0)
	if sess.Status == model.SessionStatusActive {
		pipe.ZAdd(ctx, config.CacheKey.SessionDeadlinesKey(), redis.Z{
			Score:  float64(sess.Deadline.UnixMilli()),
			Member: id,
		})
	} else {
		pipe.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), id)
	}
	pipe.RPush(ctx, config.WorkerKey.PersistSessionsQueue, id)
}

// heal re-populates Redis from an archived copy without queueing a persist job.
func (s *RedisSessionStore) heal(ctx context.Context, sess *model.ExamSession) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return
	}
	id := sess.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.SetNX(ctx, config.CacheKey.SessionKey(id), raw, 0)
	pipe.SetNX(ctx, config.CacheKey.StudentExamSessionKey(sess.ExamID.String(), sess.StudentID), id, 0)
	if sess.Status == model.SessionStatusActive {
		pipe.ZAdd(ctx, config.CacheKey.SessionDeadlinesKey(), redis.Z{
			Score:  float64(sess.Deadline.UnixMilli()),
			Member: id,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("session_id", id).Msg("Failed to re-cache archived session")
		return
	}
	s.log.Debug().Str("session_id", id).Msg("Session restored from archive")
}

func (s *RedisSessionStore) archivedAt(ctx context.Context, id uuid.UUID, revision int64) bool {
	if s.archive == nil {
		return false
	}
	archived, err := s.archive.GetByID(ctx, id)
	if err != nil {
		return false
	}
	return archived.Revision == revision
}

func decodeSession(raw []byte) (*model.ExamSession, error) {
	sess := &model.ExamSession{}
	if err := json.Unmarshal(raw, sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Answers == nil {
		sess.Answers = make(map[uuid.UUID]*model.AnswerRecord)
	}
	return sess, nil
}

func storedRevision(raw []byte) (int64, error) {
	var probe struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, fmt.Errorf("decode stored revision: %w", err)
	}
	return probe.Revision, nil
}
