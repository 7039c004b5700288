package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// ErrExamNotFound is returned by providers for unknown exam ids.
var ErrExamNotFound = errors.New("exam not found")

// ExamProvider is the external source of exam definitions.
type ExamProvider interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
}

// ExamLister enumerates exams worth prewarming.
type ExamLister interface {
	ListPublished(ctx context.Context) ([]uuid.UUID, error)
}

// ExamSource is what the engine needs from the catalog.
type ExamSource interface {
	Current(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	Pinned(ctx context.Context, id uuid.UUID, version int) (*model.ExamDefinition, error)
}

// ExamCatalog serves exam definitions, keeping an immutable Redis snapshot of
// every version a session was started against.
type ExamCatalog struct {
	provider ExamProvider
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamCatalog creates a new ExamCatalog.
func NewExamCatalog(provider ExamProvider, rdb *redis.Client, log zerolog.Logger) *ExamCatalog {
	return &ExamCatalog{
		provider: provider,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_catalog").Logger(),
	}
}

// Current returns the live definition from the provider and snapshots it.
// Unknown exams map to ErrExamNotFound; provider faults to ErrDefinitionUnavailable.
func (c *ExamCatalog) Current(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	exam, err := c.provider.GetExam(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrExamNotFound) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDefinitionUnavailable, err)
	}
	if err := checkDefinition(exam); err != nil {
		return nil, err
	}
	if err := c.WarmSnapshot(ctx, exam); err != nil {
		c.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to snapshot exam")
	}
	return exam, nil
}

// checkDefinition refuses provider data that cannot be served or graded.
func checkDefinition(exam *model.ExamDefinition) error {
	if err := exam.Validate(); err != nil {
		return fmt.Errorf("%w: exam %s is invalid: %w", ErrDefinitionUnavailable, exam.ID, err)
	}
	return nil
}

// Pinned returns exactly the given version. The provider is only consulted when
// the snapshot is missing, and only accepted if it still serves that version.
func (c *ExamCatalog) Pinned(ctx context.Context, id uuid.UUID, version int) (*model.ExamDefinition, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.ExamSnapshotKey(id.String(), version)).Bytes()
	switch {
	case err == nil:
		var exam model.ExamDefinition
		if err := json.Unmarshal(data, &exam); err != nil {
			return nil, fmt.Errorf("%w: corrupt snapshot: %v", ErrDefinitionUnavailable, err)
		}
		return &exam, nil
	case !errors.Is(err, redis.Nil):
		c.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Snapshot read failed, asking provider")
	}

	exam, err := c.provider.GetExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinitionUnavailable, err)
	}
	if exam.Version != version {
		return nil, fmt.Errorf("%w: exam %s moved from v%d to v%d", ErrDefinitionUnavailable, id, version, exam.Version)
	}
	if err := checkDefinition(exam); err != nil {
		return nil, err
	}
	if err := c.WarmSnapshot(ctx, exam); err != nil {
		c.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to snapshot exam")
	}
	return exam, nil
}

// WarmSnapshot stores the definition under its version key unless one exists.
// Snapshots are write-once: a version never changes after it is first seen.
func (c *ExamCatalog) WarmSnapshot(ctx context.Context, exam *model.ExamDefinition) error {
	snap := *exam
	snap.PasswordHash = ""
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.rdb.SetNX(ctx, config.CacheKey.ExamSnapshotKey(exam.ID.String(), exam.Version), data, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	c.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("version", exam.Version).
		Int("questions", len(exam.Questions)).
		Msg("Snapshot warmed")
	return nil
}

// PrewarmAll snapshots every published exam on startup so the first wave of
// authentications does not stampede the database.
func (c *ExamCatalog) PrewarmAll(ctx context.Context, lister ExamLister) error {
	ids, err := lister.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(ids) == 0 {
		c.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	c.log.Info().Int("count", len(ids)).Msg("Prewarming published exams...")

	warmed := 0
	for _, id := range ids {
		exam, err := c.provider.GetExam(ctx, id)
		if err == nil {
			err = checkDefinition(exam)
		}
		if err == nil {
			err = c.WarmSnapshot(ctx, exam)
		}
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("exam_id", id.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	c.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}
