package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository reads exams. Exams are authored elsewhere.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetExam retrieves an exam by its UUID.
func (r *ExamRepository) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	var policy []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, course_id, title, duration_minutes, passing_score, is_published,
		        start_time, end_time, hard_deadline, proctor_policy
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.CourseID, &e.Title, &e.DurationMinutes, &e.PassingScore, &e.IsPublished,
		&e.StartTime, &e.EndTime, &e.HardDeadline, &policy)
	if err != nil {
		return nil, mapNoRows(err)
	}
	e.ProctorPolicy = policy
	return e, nil
}

// Create inserts a new exam. Used by the seed tool.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	var policy []byte
	if len(e.ProctorPolicy) > 0 {
		policy = e.ProctorPolicy
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (course_id, title, duration_minutes, passing_score, is_published,
		                    start_time, end_time, hard_deadline, proctor_policy)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		 RETURNING id`,
		e.CourseID, e.Title, e.DurationMinutes, e.PassingScore, e.IsPublished,
		e.StartTime, e.EndTime, e.HardDeadline, policy,
	).Scan(&e.ID)
}
