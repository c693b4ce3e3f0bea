package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const sessionColumns = `id, exam_id, user_id, started_at, submitted_at, submit_cause,
		        score, is_graded, graded_by, grading_comment, graded_at`

const answerColumns = `id, session_id, question_id, response, awarded_points, grader_comment, created_at, updated_at`

// ExamSessionRepository handles exam session, answer and grade data access.
// Every state transition is a single conditional statement or a short
// transaction guarded by a row lock.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ExamID, &s.UserID, &s.StartedAt, &s.SubmittedAt, &s.SubmitCause,
		&s.Score, &s.IsGraded, &s.GradedBy, &s.GradingComment, &s.GradedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanAnswer(row pgx.Row) (*model.Answer, error) {
	a := &model.Answer{}
	err := row.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.Response, &a.AwardedPoints,
		&a.GraderComment, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CreateSessionIfAbsent inserts the (exam, user) session unless it exists.
// A concurrent insert that loses the unique constraint reads the winner's row.
func (r *ExamSessionRepository) CreateSessionIfAbsent(ctx context.Context, examID uuid.UUID, userID int, startedAt time.Time) (*model.ExamSession, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (exam_id, user_id, started_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (exam_id, user_id) DO NOTHING
		 RETURNING `+sessionColumns,
		examID, userID, startedAt,
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	existing, err := r.GetSessionByExamAndUser(ctx, examID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("concurrent start detected, but fetch failed: %w", err)
	}
	return existing, false, nil
}

// GetSession retrieves a session by id.
func (r *ExamSessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return s, nil
}

// GetSessionByExamAndUser retrieves the session for an exam-user combination.
func (r *ExamSessionRepository) GetSessionByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID))
	if err != nil {
		return nil, mapNoRows(err)
	}
	return s, nil
}

// MarkSubmitted sets submitted_at where it is still null. The loser of a
// concurrent submit reads back the winner's row.
func (r *ExamSessionRepository) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time, cause model.SubmitCause) (*model.ExamSession, bool, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET submitted_at = $2, submit_cause = $3
		 WHERE id = $1 AND submitted_at IS NULL
		 RETURNING `+sessionColumns,
		id, at, cause,
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	current, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

// UpsertAnswer writes one answer under a shared lock on the session row, so
// a concurrent MarkSubmitted either waits for it or makes it fail.
func (r *ExamSessionRepository) UpsertAnswer(ctx context.Context, sessionID, questionID uuid.UUID, text string, at time.Time) (*model.Answer, error) {
	var answer *model.Answer
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var examID uuid.UUID
		var submitted bool
		err := tx.QueryRow(ctx,
			`SELECT exam_id, submitted_at IS NOT NULL
			 FROM exam_sessions WHERE id = $1
			 FOR SHARE`, sessionID,
		).Scan(&examID, &submitted)
		if err != nil {
			return mapNoRows(err)
		}
		if submitted {
			return model.ErrSessionClosed
		}

		answer, err = scanAnswer(tx.QueryRow(ctx,
			`INSERT INTO exam_answers (session_id, question_id, response, created_at, updated_at)
			 SELECT $1, q.id, $3, $4, $4
			 FROM questions q
			 WHERE q.id = $2 AND q.exam_id = $5
			 ON CONFLICT (session_id, question_id)
			 DO UPDATE SET response = EXCLUDED.response, updated_at = EXCLUDED.updated_at
			 RETURNING `+answerColumns,
			sessionID, questionID, text, at, examID,
		))
		if errors.Is(err, pgx.ErrNoRows) || isPgCode(err, pgForeignKeyViolation) {
			return model.ErrUnknownQuestion
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// ListAnswers returns a session's answers in question order.
func (r *ExamSessionRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.session_id, a.question_id, a.response, a.awarded_points,
		        a.grader_comment, a.created_at, a.updated_at
		 FROM exam_answers a
		 JOIN questions q ON q.id = a.question_id
		 WHERE a.session_id = $1
		 ORDER BY q.order_num ASC, a.created_at ASC`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make([]model.Answer, 0)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, *a)
	}
	return answers, rows.Err()
}

// ApplyGrade writes per-answer points and the session score in one
// transaction. The session row is locked first and must be submitted and
// not yet graded.
func (r *ExamSessionRepository) ApplyGrade(ctx context.Context, sessionID uuid.UUID, grade model.Grade) (*model.ExamSession, error) {
	var graded *model.ExamSession
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var submitted, isGraded bool
		err := tx.QueryRow(ctx,
			`SELECT submitted_at IS NOT NULL, is_graded
			 FROM exam_sessions WHERE id = $1
			 FOR UPDATE`, sessionID,
		).Scan(&submitted, &isGraded)
		if err != nil {
			return mapNoRows(err)
		}
		switch {
		case isGraded:
			return model.ErrAlreadyGraded
		case !submitted:
			return model.ErrNotSubmitted
		}

		if len(grade.Awards) > 0 {
			batch := &pgx.Batch{}
			for _, aw := range grade.Awards {
				batch.Queue(
					`UPDATE exam_answers
					 SET awarded_points = $1, grader_comment = COALESCE($2, grader_comment), updated_at = $3
					 WHERE id = $4 AND session_id = $5`,
					aw.AwardedPoints, aw.Comment, grade.GradedAt, aw.AnswerID, sessionID,
				)
			}
			br := tx.SendBatch(ctx, batch)
			for range grade.Awards {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return err
				}
				if tag.RowsAffected() == 0 {
					_ = br.Close()
					return model.ErrForeignAnswer
				}
			}
			if err := br.Close(); err != nil {
				return err
			}
		}

		graded, err = scanSession(tx.QueryRow(ctx,
			`UPDATE exam_sessions
			 SET score = $2, is_graded = TRUE, graded_by = $3, grading_comment = $4, graded_at = $5
			 WHERE id = $1
			 RETURNING `+sessionColumns,
			sessionID, grade.TotalScore, grade.GradedBy, grade.Comment, grade.GradedAt,
		))
		return err
	})
	if err != nil {
		return nil, err
	}
	return graded, nil
}

// ListOverdueSessions returns open sessions whose deadline is not after now,
// oldest deadline first.
func (r *ExamSessionRepository) ListOverdueSessions(ctx context.Context, now time.Time, limit int) ([]model.OverdueSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, user_id, deadline FROM (
		     SELECT s.id, s.exam_id, s.user_id,
		            LEAST(s.started_at + make_interval(mins => e.duration_minutes),
		                  CASE WHEN e.hard_deadline THEN e.end_time END) AS deadline
		     FROM exam_sessions s
		     JOIN exams e ON e.id = s.exam_id
		     WHERE s.submitted_at IS NULL
		 ) d
		 WHERE deadline <= $1
		 ORDER BY deadline ASC
		 LIMIT $2`, now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OverdueSession
	for rows.Next() {
		var o model.OverdueSession
		if err := rows.Scan(&o.SessionID, &o.ExamID, &o.UserID, &o.Deadline); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
