// Package memstore is an in-memory session store. It backs the memory
// driver and the engine's tests, and gives the same atomicity guarantees as
// the Postgres repositories by doing every operation under one lock.
package memstore

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type examUser struct {
	examID uuid.UUID
	userID int
}

type courseUser struct {
	courseID int
	userID   int
}

type sessionQuestion struct {
	sessionID  uuid.UUID
	questionID uuid.UUID
}

// Store holds exams, enrollments, sessions, answers and proctor events.
type Store struct {
	mu sync.Mutex

	exams       map[uuid.UUID]*model.Exam
	questions   map[uuid.UUID]*model.Question
	enrollments map[courseUser]struct{}

	sessions   map[uuid.UUID]*model.ExamSession
	byExamUser map[examUser]uuid.UUID
	answers    map[sessionQuestion]*model.Answer
	events     []model.ProctorEvent

	failures map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		exams:       make(map[uuid.UUID]*model.Exam),
		questions:   make(map[uuid.UUID]*model.Question),
		enrollments: make(map[courseUser]struct{}),
		sessions:    make(map[uuid.UUID]*model.ExamSession),
		byExamUser:  make(map[examUser]uuid.UUID),
		answers:     make(map[sessionQuestion]*model.Answer),
		failures:    make(map[string]error),
	}
}

// PutExam inserts or replaces an exam.
func (s *Store) PutExam(exam model.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := exam
	e.ProctorPolicy = slices.Clone(exam.ProctorPolicy)
	s.exams[e.ID] = &e
}

// PutQuestion inserts or replaces a question.
func (s *Store) PutQuestion(q model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[q.ID] = &q
}

// Enroll links a user to a course.
func (s *Store) Enroll(courseID, userID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[courseUser{courseID, userID}] = struct{}{}
}

// FailNext makes the next call of the named operation return err without
// touching any state. Operation names match the method names.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// check returns the context or injected error for op. Callers hold s.mu.
func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// GetExam implements the exam reader.
func (s *Store) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetExam"); err != nil {
		return nil, err
	}
	e, ok := s.exams[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	out := *e
	out.ProctorPolicy = slices.Clone(e.ProctorPolicy)
	return &out, nil
}

// IsEnrolled implements the enrollment check.
func (s *Store) IsEnrolled(ctx context.Context, courseID, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "IsEnrolled"); err != nil {
		return false, err
	}
	_, ok := s.enrollments[courseUser{courseID, userID}]
	return ok, nil
}

func (s *Store) CreateSessionIfAbsent(ctx context.Context, examID uuid.UUID, userID int, startedAt time.Time) (*model.ExamSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "CreateSessionIfAbsent"); err != nil {
		return nil, false, err
	}
	key := examUser{examID, userID}
	if id, ok := s.byExamUser[key]; ok {
		return s.sessions[id].Clone(), false, nil
	}
	sess := &model.ExamSession{
		ID:        uuid.New(),
		ExamID:    examID,
		UserID:    userID,
		StartedAt: startedAt,
	}
	s.sessions[sess.ID] = sess
	s.byExamUser[key] = sess.ID
	return sess.Clone(), true, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetSession"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) GetSessionByExamAndUser(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetSessionByExamAndUser"); err != nil {
		return nil, err
	}
	id, ok := s.byExamUser[examUser{examID, userID}]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.sessions[id].Clone(), nil
}

func (s *Store) MarkSubmitted(ctx context.Context, id uuid.UUID, at time.Time, cause model.SubmitCause) (*model.ExamSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "MarkSubmitted"); err != nil {
		return nil, false, err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, model.ErrNotFound
	}
	if sess.SubmittedAt != nil {
		return sess.Clone(), false, nil
	}
	submittedAt := at
	c := cause
	sess.SubmittedAt = &submittedAt
	sess.SubmitCause = &c
	return sess.Clone(), true, nil
}

func (s *Store) UpsertAnswer(ctx context.Context, sessionID, questionID uuid.UUID, text string, at time.Time) (*model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "UpsertAnswer"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	if !sess.IsOpen() {
		return nil, model.ErrSessionClosed
	}
	q, ok := s.questions[questionID]
	if !ok || q.ExamID != sess.ExamID {
		return nil, model.ErrUnknownQuestion
	}

	key := sessionQuestion{sessionID, questionID}
	a, ok := s.answers[key]
	if !ok {
		a = &model.Answer{
			ID:         uuid.New(),
			SessionID:  sessionID,
			QuestionID: questionID,
			CreatedAt:  at,
		}
		s.answers[key] = a
	}
	a.Response = text
	a.UpdatedAt = at
	return cloneAnswer(a), nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListAnswers"); err != nil {
		return nil, err
	}
	return s.listAnswers(sessionID), nil
}

func (s *Store) listAnswers(sessionID uuid.UUID) []model.Answer {
	out := make([]model.Answer, 0)
	for k, a := range s.answers {
		if k.sessionID == sessionID {
			out = append(out, *cloneAnswer(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		qi, qj := s.questions[out[i].QuestionID], s.questions[out[j].QuestionID]
		if qi != nil && qj != nil && qi.OrderNum != qj.OrderNum {
			return qi.OrderNum < qj.OrderNum
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ApplyGrade(ctx context.Context, sessionID uuid.UUID, grade model.Grade) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ApplyGrade"); err != nil {
		return nil, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, model.ErrNotFound
	}
	switch sess.State() {
	case model.SessionStateCreated:
		return nil, model.ErrNotSubmitted
	case model.SessionStateGraded:
		return nil, model.ErrAlreadyGraded
	}

	byID := make(map[uuid.UUID]*model.Answer)
	for k, a := range s.answers {
		if k.sessionID == sessionID {
			byID[a.ID] = a
		}
	}
	for _, aw := range grade.Awards {
		if _, ok := byID[aw.AnswerID]; !ok {
			return nil, model.ErrForeignAnswer
		}
	}

	// All checks passed; apply everything at once.
	for _, aw := range grade.Awards {
		a := byID[aw.AnswerID]
		points := aw.AwardedPoints
		a.AwardedPoints = &points
		if aw.Comment != nil {
			c := *aw.Comment
			a.GraderComment = &c
		}
		a.UpdatedAt = grade.GradedAt
	}
	score := grade.TotalScore
	by := grade.GradedBy
	comment := grade.Comment
	gradedAt := grade.GradedAt
	sess.Score = &score
	sess.IsGraded = true
	sess.GradedBy = &by
	sess.GradingComment = &comment
	sess.GradedAt = &gradedAt
	return sess.Clone(), nil
}

func (s *Store) ListOverdueSessions(ctx context.Context, now time.Time, limit int) ([]model.OverdueSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListOverdueSessions"); err != nil {
		return nil, err
	}
	var out []model.OverdueSession
	for _, sess := range s.sessions {
		if !sess.IsOpen() {
			continue
		}
		exam, ok := s.exams[sess.ExamID]
		if !ok {
			continue
		}
		deadline := exam.Deadline(sess.StartedAt)
		if now.Before(deadline) {
			continue
		}
		out = append(out, model.OverdueSession{
			SessionID: sess.ID,
			ExamID:    sess.ExamID,
			UserID:    sess.UserID,
			Deadline:  deadline,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AppendProctorEvent(ctx context.Context, ev *model.ProctorEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "AppendProctorEvent"); err != nil {
		return err
	}
	if _, ok := s.sessions[ev.SessionID]; !ok {
		return model.ErrNotFound
	}
	stored := *ev
	stored.Detail = slices.Clone(ev.Detail)
	s.events = append(s.events, stored)
	return nil
}

func (s *Store) CountProctorEvents(ctx context.Context, sessionID uuid.UUID, types []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "CountProctorEvents"); err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range s.events {
		if ev.SessionID != sessionID {
			continue
		}
		if len(types) == 0 || slices.Contains(types, ev.Type) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListProctorEvents(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListProctorEvents"); err != nil {
		return nil, err
	}
	out := make([]model.ProctorEvent, 0)
	for _, ev := range s.events {
		if ev.SessionID == sessionID {
			c := ev
			c.Detail = json.RawMessage(slices.Clone(ev.Detail))
			out = append(out, c)
		}
	}
	return out, nil
}

func cloneAnswer(a *model.Answer) *model.Answer {
	c := *a
	if a.AwardedPoints != nil {
		v := *a.AwardedPoints
		c.AwardedPoints = &v
	}
	if a.GraderComment != nil {
		v := *a.GraderComment
		c.GraderComment = &v
	}
	return &c
}
