package service

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamSessionService is the entry point used by handlers and workers. It
// loads the session and its exam, checks ownership, runs the lazy deadline
// check and delegates to the admission gate, lifecycle, violation tracker
// and grading aggregator.
type ExamSessionService struct {
	sessions SessionStore
	events   EventLog
	exams    ExamReader
	monitor  MonitorPublisher
	policy   model.ProctorPolicy
	clock    clock.Clock
	log      zerolog.Logger

	gate      *AdmissionGate
	lifecycle *Lifecycle
	tracker   *ViolationTracker
	grading   *GradingAggregator
}

// Deps groups the collaborators of ExamSessionService.
type Deps struct {
	Sessions    SessionStore
	Events      EventLog
	Exams       ExamReader
	Enrollments EnrollmentChecker
	Dispatcher  Dispatcher
	Monitor     MonitorPublisher
	Clock       clock.Clock
}

// NewExamSessionService creates a new ExamSessionService. policy holds the
// configured proctoring defaults that each exam may override.
func NewExamSessionService(deps Deps, policy model.ProctorPolicy, log zerolog.Logger) *ExamSessionService {
	if deps.Monitor == nil {
		deps.Monitor = NopMonitor{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	log = logger.Component(log, "session_service")
	lifecycle := NewLifecycle(deps.Sessions, deps.Dispatcher, deps.Monitor, log)

	return &ExamSessionService{
		sessions:  deps.Sessions,
		events:    deps.Events,
		exams:     deps.Exams,
		monitor:   deps.Monitor,
		policy:    policy,
		clock:     deps.Clock,
		log:       log,
		gate:      NewAdmissionGate(deps.Sessions, deps.Enrollments),
		lifecycle: lifecycle,
		tracker:   NewViolationTracker(deps.Events),
		grading:   NewGradingAggregator(deps.Sessions, lifecycle),
	}
}

// ProctorEventResult is returned after recording a proctor event.
type ProctorEventResult struct {
	Event     *model.ProctorEvent     `json:"event"`
	Decision  model.ViolationDecision `json:"decision"`
	State     model.SessionState      `json:"state"`
	Submitted bool                    `json:"auto_submitted"`
}

// ScoreView is returned after grading.
type ScoreView struct {
	SessionID    uuid.UUID `json:"session_id"`
	Score        float64   `json:"score"`
	PassingScore float64   `json:"passing_score"`
	Passed       bool      `json:"passed"`
	GradedBy     int       `json:"graded_by"`
	GradedAt     time.Time `json:"graded_at"`
}

// SessionDetail is the grader's view of a session.
type SessionDetail struct {
	Session        *model.ExamSession `json:"session"`
	State          model.SessionState `json:"state"`
	Exam           *model.Exam        `json:"exam"`
	Deadline       time.Time          `json:"deadline"`
	ViolationCount int                `json:"violation_count"`
	Threshold      int                `json:"violation_threshold"`
	Answers        []model.Answer     `json:"answers"`
}

// StartSession admits the user to the exam and returns the session view.
func (s *ExamSessionService) StartSession(ctx context.Context, examID uuid.UUID, userID int) (*model.SessionView, error) {
	exam, err := s.getExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	admission, err := s.gate.Admit(ctx, exam, userID, now)
	if err != nil {
		return nil, err
	}

	sess := admission.Session
	if admission.Kind == AdmitCreate {
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Str("exam_id", exam.ID.String()).
			Int("user_id", userID).
			Msg("Session started")
		s.lifecycle.publish(ctx, model.MonitorEvent{
			Type:      model.MonitorSessionStarted,
			ExamID:    exam.ID,
			SessionID: sess.ID,
			UserID:    userID,
			At:        now,
		})
	}

	sess, err = s.lifecycle.EnforceDeadline(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}

	view, err := s.buildView(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}
	view.Resumed = admission.Kind == AdmitResume
	return view, nil
}

// GetSessionState returns the student's view of their session. Polling
// past the deadline auto-submits it.
func (s *ExamSessionService) GetSessionState(ctx context.Context, sessionID uuid.UUID, userID int) (*model.SessionView, error) {
	sess, exam, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess, err = s.lifecycle.EnforceDeadline(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}
	return s.buildView(ctx, sess, exam, now)
}

// SaveAnswer stores the answer text for one question.
func (s *ExamSessionService) SaveAnswer(ctx context.Context, sessionID uuid.UUID, userID int, questionID uuid.UUID, text string) (*model.Answer, error) {
	sess, exam, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.SaveAnswer(ctx, sess, exam, questionID, text, s.clock.Now())
}

// SubmitSession submits the session on the student's request. Submitting a
// closed session returns it unchanged.
func (s *ExamSessionService) SubmitSession(ctx context.Context, sessionID uuid.UUID, userID int) (*model.ExamSession, error) {
	sess, exam, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess, err = s.lifecycle.EnforceDeadline(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}
	return s.lifecycle.Submit(ctx, sess.ID, model.SubmitCauseManual, now)
}

// RecordProctorEvent logs a proctor event and auto-submits the session when
// the violation threshold is reached.
func (s *ExamSessionService) RecordProctorEvent(ctx context.Context, sessionID uuid.UUID, userID int, eventType string, detail json.RawMessage) (*ProctorEventResult, error) {
	sess, exam, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	policy := s.resolvePolicy(exam)

	now := s.clock.Now()
	sess, err = s.lifecycle.EnforceDeadline(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}

	ev, decision, err := s.tracker.RecordEvent(ctx, sess, policy, eventType, detail, now)
	if err != nil {
		return nil, err
	}

	s.lifecycle.publish(ctx, model.MonitorEvent{
		Type:           model.MonitorProctorEvent,
		ExamID:         sess.ExamID,
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		EventType:      eventType,
		ViolationCount: decision.Count,
		At:             now,
	})

	result := &ProctorEventResult{Event: ev, Decision: decision, State: sess.State()}
	if decision.ShouldAutoSubmit {
		submitted, won, err := s.lifecycle.submit(ctx, sess.ID, model.SubmitCauseAutoViolation, now)
		if err != nil {
			return nil, err
		}
		result.State = submitted.State()
		result.Submitted = won
	}
	return result, nil
}

// GradeSession finalizes a submitted session's score. A session that is
// still open when grading is requested is rejected with ErrNotSubmitted,
// even when the deadline check closes it during this call; the grader
// sees the auto-submitted session on the next attempt.
func (s *ExamSessionService) GradeSession(ctx context.Context, sessionID uuid.UUID, graderID int, awards []model.AnswerAward, comment string) (*ScoreView, error) {
	sess, exam, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if sess.IsOpen() {
		if _, err := s.lifecycle.EnforceDeadline(ctx, sess, exam, now); err != nil {
			return nil, err
		}
		return nil, ErrNotSubmitted
	}

	graded, err := s.grading.Grade(ctx, sess, awards, comment, graderID, now)
	if err != nil {
		return nil, err
	}

	view := &ScoreView{
		SessionID:    graded.ID,
		PassingScore: exam.PassingScore,
		GradedBy:     graderID,
		GradedAt:     now,
	}
	if graded.Score != nil {
		view.Score = *graded.Score
	}
	if graded.GradedAt != nil {
		view.GradedAt = *graded.GradedAt
	}
	view.Passed = view.Score >= exam.PassingScore
	return view, nil
}

// GetSessionDetail returns a session with its answers for graders.
func (s *ExamSessionService) GetSessionDetail(ctx context.Context, sessionID uuid.UUID) (*SessionDetail, error) {
	sess, exam, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	sess, err = s.lifecycle.EnforceDeadline(ctx, sess, exam, now)
	if err != nil {
		return nil, err
	}
	policy := s.resolvePolicy(exam)

	answers, err := s.sessions.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, storeErr("list answers", err, nil)
	}
	count, err := s.tracker.Count(ctx, sess.ID, policy)
	if err != nil {
		return nil, err
	}

	return &SessionDetail{
		Session:        sess,
		State:          sess.State(),
		Exam:           exam,
		Deadline:       exam.Deadline(sess.StartedAt),
		ViolationCount: count,
		Threshold:      policy.ViolationThreshold,
		Answers:        answers,
	}, nil
}

// ListProctorEvents returns the session's proctor log, oldest first.
func (s *ExamSessionService) ListProctorEvents(ctx context.Context, sessionID uuid.UUID) ([]model.ProctorEvent, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, storeErr("get session", err, ErrSessionNotFound)
	}
	events, err := s.events.ListProctorEvents(ctx, sessionID)
	if err != nil {
		return nil, storeErr("list proctor events", err, nil)
	}
	return events, nil
}

// SweepExpired auto-submits up to limit open sessions past their deadline.
// It only backs up the lazy check done on every interaction.
func (s *ExamSessionService) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	overdue, err := s.sessions.ListOverdueSessions(ctx, now, limit)
	if err != nil {
		return 0, storeErr("list overdue sessions", err, nil)
	}

	submitted := 0
	for _, o := range overdue {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		_, won, err := s.lifecycle.submit(ctx, o.SessionID, model.SubmitCauseAutoTimeout, now)
		if err != nil {
			s.log.Error().Err(err).Str("session_id", o.SessionID.String()).Msg("Failed to auto-submit overdue session")
			continue
		}
		if won {
			submitted++
		}
	}
	return submitted, nil
}

// GetExam returns the exam definition.
func (s *ExamSessionService) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return s.getExam(ctx, examID)
}

func (s *ExamSessionService) load(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, *model.Exam, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, storeErr("get session", err, ErrSessionNotFound)
	}
	exam, err := s.getExam(ctx, sess.ExamID)
	if err != nil {
		return nil, nil, err
	}
	return sess, exam, nil
}

func (s *ExamSessionService) loadOwned(ctx context.Context, sessionID uuid.UUID, userID int) (*model.ExamSession, *model.Exam, error) {
	sess, exam, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if sess.UserID != userID {
		return nil, nil, ErrForbidden
	}
	return sess, exam, nil
}

func (s *ExamSessionService) getExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, storeErr("get exam", err, ErrExamNotFound)
	}
	return exam, nil
}

// resolvePolicy falls back to the configured defaults when the exam's
// override is invalid.
func (s *ExamSessionService) resolvePolicy(exam *model.Exam) model.ProctorPolicy {
	policy, err := s.policy.Resolve(exam.ProctorPolicy)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Ignoring invalid proctor policy")
		return s.policy
	}
	return policy
}

func (s *ExamSessionService) buildView(ctx context.Context, sess *model.ExamSession, exam *model.Exam, now time.Time) (*model.SessionView, error) {
	policy := s.resolvePolicy(exam)
	count, err := s.tracker.Count(ctx, sess.ID, policy)
	if err != nil {
		return nil, err
	}
	answers, err := s.sessions.ListAnswers(ctx, sess.ID)
	if err != nil {
		return nil, storeErr("list answers", err, nil)
	}

	deadline := exam.Deadline(sess.StartedAt)
	remaining := 0.0
	if sess.IsOpen() {
		remaining = math.Max(0, deadline.Sub(now).Seconds())
	}

	return &model.SessionView{
		Session:          sess,
		State:            sess.State(),
		ExamTitle:        exam.Title,
		Deadline:         deadline,
		RemainingSeconds: math.Floor(remaining),
		ViolationCount:   count,
		Threshold:        policy.ViolationThreshold,
		ClientFlags:      policy.ClientFlags,
		Answers:          answers,
	}, nil
}
