package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamSessionRepository is the durable PostgreSQL archive of exam sessions.
// Redis holds the live copy; rows here trail it by at most one persist-queue hop.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

const sessionColumns = `id, exam_id, exam_version, student_id, status, started_at, deadline,
	auto_submit, question_order, answers, submitted_at, submit_reason, auto_graded, auto_score,
	manual_score, final_score, feedback, graded_at, graded_by, revision`

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var submitReason *string
	err := row.Scan(&s.ID, &s.ExamID, &s.ExamVersion, &s.StudentID, &s.Status, &s.StartedAt, &s.Deadline,
		&s.AutoSubmit, &s.QuestionOrder, &s.Answers, &s.SubmittedAt, &submitReason, &s.AutoGraded, &s.AutoScore,
		&s.ManualScore, &s.FinalScore, &s.Feedback, &s.GradedAt, &s.GradedBy, &s.Revision)
	if err != nil {
		return nil, notFound(err)
	}
	if submitReason != nil {
		s.SubmitReason = model.SubmitReason(*submitReason)
	}
	if s.Answers == nil {
		s.Answers = make(map[uuid.UUID]*model.AnswerRecord)
	}
	return s, nil
}

// GetByID retrieves an archived session.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// GetByExamAndStudent retrieves the session for a specific exam-student combination.
func (r *ExamSessionRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

const upsertSessionSQL = `
	INSERT INTO exam_sessions (` + sessionColumns + `, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		answers = EXCLUDED.answers,
		submitted_at = EXCLUDED.submitted_at,
		submit_reason = EXCLUDED.submit_reason,
		auto_graded = EXCLUDED.auto_graded,
		auto_score = EXCLUDED.auto_score,
		manual_score = EXCLUDED.manual_score,
		final_score = EXCLUDED.final_score,
		feedback = EXCLUDED.feedback,
		graded_at = EXCLUDED.graded_at,
		graded_by = EXCLUDED.graded_by,
		revision = EXCLUDED.revision,
		updated_at = NOW()
	WHERE exam_sessions.revision < EXCLUDED.revision`

func upsertArgs(s *model.ExamSession) []any {
	var submitReason *string
	if s.SubmitReason != "" {
		v := string(s.SubmitReason)
		submitReason = &v
	}
	return []any{
		s.ID, s.ExamID, s.ExamVersion, s.StudentID, s.Status, s.StartedAt, s.Deadline,
		s.AutoSubmit, s.QuestionOrder, s.Answers, s.SubmittedAt, submitReason, s.AutoGraded, s.AutoScore,
		s.ManualScore, s.FinalScore, s.Feedback, s.GradedAt, s.GradedBy, s.Revision,
	}
}

// Upsert writes a session. Older revisions never overwrite newer ones, so
// out-of-order queue deliveries are harmless.
func (r *ExamSessionRepository) Upsert(ctx context.Context, s *model.ExamSession) error {
	_, err := r.pool.Exec(ctx, upsertSessionSQL, upsertArgs(s)...)
	return err
}

// UpsertBatch writes many sessions in one round trip.
func (r *ExamSessionRepository) UpsertBatch(ctx context.Context, sessions []*model.ExamSession) error {
	if len(sessions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range sessions {
		batch.Queue(upsertSessionSQL, upsertArgs(s)...)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// ListOverdueActive returns ACTIVE sessions whose deadline has passed.
// The sweeper uses it to recover deadline entries lost from Redis.
func (r *ExamSessionRepository) ListOverdueActive(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exam_sessions
		 WHERE status = $1 AND deadline <= $2
		 ORDER BY deadline
		 LIMIT $3`, model.SessionStatusActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
