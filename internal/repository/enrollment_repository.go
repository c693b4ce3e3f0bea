package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnrollmentRepository answers course membership questions.
type EnrollmentRepository struct {
	pool *pgxpool.Pool
}

// NewEnrollmentRepository creates a new EnrollmentRepository.
func NewEnrollmentRepository(pool *pgxpool.Pool) *EnrollmentRepository {
	return &EnrollmentRepository{pool: pool}
}

// IsEnrolled reports whether userID is linked to courseID.
func (r *EnrollmentRepository) IsEnrolled(ctx context.Context, courseID, userID int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM course_enrollments WHERE course_id = $1 AND user_id = $2
		 )`, courseID, userID,
	).Scan(&ok)
	return ok, err
}

// Enroll links userID to courseID. Used by the seed tool.
func (r *EnrollmentRepository) Enroll(ctx context.Context, courseID, userID int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO course_enrollments (course_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, courseID, userID)
	return err
}

// EnsureCourse inserts the course if it does not exist. Used by the seed tool.
func (r *EnrollmentRepository) EnsureCourse(ctx context.Context, courseID int, name string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO courses (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO NOTHING`, courseID, name)
	return err
}
