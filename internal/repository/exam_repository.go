package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-exam/internal/model"
)

const examColumns = `id, title, description, exam_code, created_at, updated_at`

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

func scanExam(row pgx.Row, e *model.Exam) error {
	return row.Scan(&e.ID, &e.Title, &e.Description, &e.ExamCode, &e.CreatedAt, &e.UpdatedAt)
}

// GetByID retrieves an exam by its UUID. Returns pgx.ErrNoRows when absent.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id), e)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListPaginated returns one page of exams, newest first, plus the total row count.
func (r *ExamRepository) ListPaginated(ctx context.Context, limit, offset int) ([]model.Exam, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 ORDER BY created_at DESC, id
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := scanExam(rows, &e); err != nil {
			return nil, 0, err
		}
		exams = append(exams, e)
	}
	return exams, total, rows.Err()
}

// Create inserts a new exam. The id is generated by the database.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, exam_code)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.ExamCode,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Update replaces the editable fields of an exam. Returns pgx.ErrNoRows when absent.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`UPDATE exams
		 SET title = $1, description = $2, exam_code = $3, updated_at = NOW()
		 WHERE id = $4
		 RETURNING created_at, updated_at`,
		e.Title, e.Description, e.ExamCode, e.ID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
}

// Delete removes an exam. Returns pgx.ErrNoRows when no row matched.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
