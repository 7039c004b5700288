package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-session/internal/model"
)

// ExamRepository reads exam definitions from PostgreSQL.
// Authoring happens elsewhere; this side only reads and rotates passwords.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, version, title, description, author_id, duration_minutes,
	opens_at, closes_at, auto_submit, shuffle_questions, result_visibility,
	password_hash, status`

func scanExam(row interface{ Scan(dest ...any) error }, e *model.ExamDefinition) error {
	return row.Scan(&e.ID, &e.Version, &e.Title, &e.Description, &e.AuthorID, &e.DurationMinutes,
		&e.OpensAt, &e.ClosesAt, &e.AutoSubmit, &e.ShuffleQuestions, &e.ResultVisibility,
		&e.PasswordHash, &e.Status)
}

// GetExam retrieves an exam and its questions (ordered by order_num).
func (r *ExamRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	row := r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams WHERE id = $1`, id)
	if err := scanExam(row, e); err != nil {
		return nil, notFound(err)
	}

	questions, err := r.listQuestions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	e.Questions = questions
	return e, nil
}

func (r *ExamRepository) listQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_type, question_text, options, correct_answer, points,
		        explanation, time_limit_seconds, order_num
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.Text, &q.Options, &q.CorrectAnswer, &q.Points,
			&q.Explanation, &q.TimeLimitSeconds, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListPublished returns the ids of all PUBLISHED exams.
// Used for snapshot prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams WHERE status = $1 ORDER BY opens_at NULLS LAST`, model.ExamStatusPublished)
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

// UpdatePasswordHash replaces the bcrypt hash that gates an exam.
// The version is not bumped: the password is not part of the graded content.
func (r *ExamRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET password_hash = $1, updated_at = NOW() WHERE id = $2`, hash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
