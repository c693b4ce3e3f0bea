package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/notification"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	courseID = 10
	student  = 42
	other    = 43
	grader   = 900
)

var nineAM = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t          *testing.T
	store      *memstore.Store
	hub        *memstore.MonitorHub
	dispatcher *notification.MemoryDispatcher
	clock      *clock.Fixed
	svc        *service.ExamSessionService
	auth       *service.AuthService
	engine     *gin.Engine
	exam       model.Exam
	questions  []uuid.UUID
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	start := nineAM.Add(-time.Hour)
	end := nineAM.Add(30 * time.Minute)
	exam := model.Exam{
		ID:              uuid.New(),
		CourseID:        courseID,
		Title:           "Physics quiz",
		DurationMinutes: 20,
		PassingScore:    4,
		IsPublished:     true,
		StartTime:       &start,
		EndTime:         &end,
	}

	store := memstore.New()
	store.PutExam(exam)
	store.Enroll(courseID, student)
	store.Enroll(courseID, other)

	fixed := clock.NewFixed(nineAM)
	h := &harness{
		t:          t,
		store:      store,
		hub:        memstore.NewMonitorHub(),
		dispatcher: notification.NewMemoryDispatcher(nil, fixed.Now, zerolog.Nop()),
		clock:      fixed,
		auth:       service.NewAuthService(&config.Config{JWTSecret: "handler-test", JWTExpiry: time.Hour}),
		exam:       exam,
	}
	for i := 1; i <= 2; i++ {
		q := model.Question{ID: uuid.New(), ExamID: exam.ID, Body: "Q", MaxPoints: 5, OrderNum: i}
		store.PutQuestion(q)
		h.questions = append(h.questions, q.ID)
	}

	h.svc = service.NewExamSessionService(service.Deps{
		Sessions:    store,
		Events:      store,
		Exams:       store,
		Enrollments: store,
		Dispatcher:  h.dispatcher,
		Monitor:     h.hub,
		Clock:       h.clock,
	}, model.ProctorPolicy{
		ViolationThreshold: 2,
		CountingTypes:      []string{model.EventTabHidden},
	}, zerolog.Nop())

	log := zerolog.Nop()
	portal := handler.NewStudentPortalHandler(h.svc, log)
	grading := handler.NewGradingHandler(h.svc, log)
	wsHandler := handler.NewWSHandler(h.svc, nil, time.Second, log, nil)
	monitor := handler.NewMonitorHandler(h.svc, h.hub, log)

	r := gin.New()
	studentAPI := r.Group("/api/v1/student", middleware.RequireStudentJWT(h.auth))
	studentAPI.POST("/exams/:exam_id/start", portal.StartSession)
	studentAPI.GET("/sessions/:session_id", portal.GetSessionState)
	studentAPI.PUT("/sessions/:session_id/answers/:question_id", portal.SaveAnswer)
	studentAPI.POST("/sessions/:session_id/submit", portal.SubmitSession)
	studentAPI.POST("/sessions/:session_id/events", portal.RecordEvent)

	r.GET("/ws/v1/student/sessions/:session_id/stream", middleware.RequireStudentWSAuth(h.auth), wsHandler.SessionStream)

	adminAPI := r.Group("/api/v1/admin", middleware.RequireAdminJWT(h.auth))
	adminAPI.GET("/sessions/:session_id", middleware.RequirePermission(string(model.PermissionSessionsRead)), grading.GetSession)
	adminAPI.GET("/sessions/:session_id/events", middleware.RequirePermission(string(model.PermissionSessionsRead)), grading.ListEvents)
	adminAPI.POST("/sessions/:session_id/grade", middleware.RequirePermission(string(model.PermissionSessionsGrade)), grading.GradeSession)
	adminAPI.GET("/exams/:exam_id/monitor", middleware.RequirePermission(string(model.PermissionSessionsRead)), monitor.MonitorExamSSE)

	h.engine = r
	return h
}

func (h *harness) studentToken(userID int) string {
	tok, err := h.auth.GenerateStudentToken(userID)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) graderToken(perms ...string) string {
	tok, err := h.auth.GenerateAdminToken(grader, perms)
	require.NoError(h.t, err)
	return tok
}

func (h *harness) do(method, path, token string, body interface{}) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (h *harness) start(userID int) model.SessionView {
	h.t.Helper()
	code, env := h.do(http.MethodPost, "/api/v1/student/exams/"+h.exam.ID.String()+"/start", h.studentToken(userID), nil)
	require.Contains(h.t, []int{http.StatusCreated, http.StatusOK}, code)
	var view model.SessionView
	require.NoError(h.t, json.Unmarshal(env.Data, &view))
	return view
}

func sessionPath(id uuid.UUID, suffix string) string {
	return "/api/v1/student/sessions/" + id.String() + suffix
}

func TestStartSessionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	tok := h.studentToken(student)
	path := "/api/v1/student/exams/" + h.exam.ID.String() + "/start"

	code, env := h.do(http.MethodPost, path, tok, nil)
	require.Equal(t, http.StatusCreated, code)
	var first model.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, model.SessionStateCreated, first.State)
	assert.Equal(t, float64(20*60), first.RemainingSeconds)

	code, env = h.do(http.MethodPost, path, tok, nil)
	require.Equal(t, http.StatusOK, code)
	var second model.SessionView
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.True(t, second.Resumed)
}

func TestStartSessionDenied(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/student/exams/" + h.exam.ID.String() + "/start"

	code, env := h.do(http.MethodPost, path, h.studentToken(7), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	code, env = h.do(http.MethodPost, "/api/v1/student/exams/not-a-uuid/start", h.studentToken(student), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_ID", env.Error.Code)

	code, env = h.do(http.MethodPost, "/api/v1/student/exams/"+uuid.NewString()+"/start", h.studentToken(student), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	h.clock.Set(nineAM.Add(31 * time.Minute))
	code, env = h.do(http.MethodPost, path, h.studentToken(student), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "EXAM_TOO_LATE", env.Error.Code)
	assert.Equal(t, "missed", env.Error.Fields["reason"])

	h.clock.Set(nineAM.Add(-2 * time.Hour))
	code, env = h.do(http.MethodPost, path, h.studentToken(student), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "EXAM_TOO_EARLY", env.Error.Code)
}

func TestStudentCannotReadAnotherSession(t *testing.T) {
	h := newHarness(t)
	view := h.start(student)

	code, env := h.do(http.MethodGet, sessionPath(view.Session.ID, ""), h.studentToken(other), nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)
}

func TestSaveAnswerAndSubmit(t *testing.T) {
	h := newHarness(t)
	view := h.start(student)
	tok := h.studentToken(student)

	code, env := h.do(http.MethodPut, sessionPath(view.Session.ID, "/answers/"+h.questions[0].String()), tok, gin.H{"text": "F = ma"})
	require.Equal(t, http.StatusOK, code)
	var answer model.Answer
	require.NoError(t, json.Unmarshal(env.Data, &answer))
	assert.Equal(t, "F = ma", answer.Response)

	code, env = h.do(http.MethodPut, sessionPath(view.Session.ID, "/answers/"+uuid.NewString()), tok, gin.H{"text": "?"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Fields, "question_id")

	code, _ = h.do(http.MethodPost, sessionPath(view.Session.ID, "/submit"), tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = h.do(http.MethodPut, sessionPath(view.Session.ID, "/answers/"+h.questions[0].String()), tok, gin.H{"text": "changed"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_CLOSED", env.Error.Code)

	code, env = h.do(http.MethodPost, sessionPath(view.Session.ID, "/submit"), tok, nil)
	assert.Equal(t, http.StatusOK, code)
	var body struct {
		State model.SessionState `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, model.SessionStateSubmitted, body.State)
	assert.Equal(t, 1, h.dispatcher.Count(model.NotificationExamSubmitted))
}

func TestPersistenceErrorIsRetryable(t *testing.T) {
	h := newHarness(t)
	view := h.start(student)

	h.store.FailNext("UpsertAnswer", context.DeadlineExceeded)
	code, env := h.do(http.MethodPut, sessionPath(view.Session.ID, "/answers/"+h.questions[0].String()), h.studentToken(student), gin.H{"text": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "PERSISTENCE_ERROR", env.Error.Code)
	assert.Equal(t, "true", env.Error.Fields["retryable"])

	h.store.FailNext("UpsertAnswer", errors.New("disk on fire"))
	code, env = h.do(http.MethodPut, sessionPath(view.Session.ID, "/answers/"+h.questions[0].String()), h.studentToken(student), gin.H{"text": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "false", env.Error.Fields["retryable"])
}

func TestRecordEventAutoSubmits(t *testing.T) {
	h := newHarness(t)
	view := h.start(student)
	tok := h.studentToken(student)
	path := sessionPath(view.Session.ID, "/events")

	code, env := h.do(http.MethodPost, path, tok, gin.H{"type": "Tab Hidden"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = h.do(http.MethodPost, path, tok, gin.H{"type": model.EventWindowBlur})
	require.Equal(t, http.StatusCreated, code)
	var res service.ProctorEventResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Decision.Counted)

	h.do(http.MethodPost, path, tok, gin.H{"type": model.EventTabHidden})
	code, env = h.do(http.MethodPost, path, tok, gin.H{"type": model.EventTabHidden, "detail": gin.H{"ms": 1200}})
	require.Equal(t, http.StatusCreated, code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.Decision.Count)
	assert.True(t, res.Submitted)
	assert.Equal(t, model.SessionStateSubmitted, res.State)
}

func TestGradingFlow(t *testing.T) {
	h := newHarness(t)
	view := h.start(student)
	tok := h.studentToken(student)

	_, env := h.do(http.MethodPut, sessionPath(view.Session.ID, "/answers/"+h.questions[0].String()), tok, gin.H{"text": "a"})
	var answer model.Answer
	require.NoError(t, json.Unmarshal(env.Data, &answer))

	gradePath := "/api/v1/admin/sessions/" + view.Session.ID.String() + "/grade"
	payload := gin.H{"answers": []gin.H{{"answer_id": answer.ID.String(), "awarded_points": 4.5}}, "comment": "ok"}

	code, env := h.do(http.MethodPost, gradePath, h.graderToken(string(model.PermissionSessionsRead)), payload)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)

	gradeTok := h.graderToken(string(model.PermissionSessionsRead), string(model.PermissionSessionsGrade))
	code, env = h.do(http.MethodPost, gradePath, gradeTok, payload)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_NOT_SUBMITTED", env.Error.Code)

	h.do(http.MethodPost, sessionPath(view.Session.ID, "/submit"), tok, nil)

	code, env = h.do(http.MethodPost, gradePath, gradeTok, gin.H{"answers": []gin.H{{"answer_id": uuid.NewString(), "awarded_points": 1}}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "FOREIGN_ANSWER", env.Error.Code)

	code, env = h.do(http.MethodPost, gradePath, gradeTok, gin.H{"answers": []gin.H{{"answer_id": answer.ID.String(), "awarded_points": -1}}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	code, env = h.do(http.MethodPost, gradePath, gradeTok, payload)
	require.Equal(t, http.StatusOK, code)
	var score service.ScoreView
	require.NoError(t, json.Unmarshal(env.Data, &score))
	assert.Equal(t, 4.5, score.Score)
	assert.True(t, score.Passed)
	assert.Equal(t, grader, score.GradedBy)

	code, env = h.do(http.MethodPost, gradePath, gradeTok, payload)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SESSION_ALREADY_GRADED", env.Error.Code)

	code, env = h.do(http.MethodGet, "/api/v1/admin/sessions/"+view.Session.ID.String(), gradeTok, nil)
	require.Equal(t, http.StatusOK, code)
	var detail service.SessionDetail
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, model.SessionStateGraded, detail.State)
	require.Len(t, detail.Answers, 1)
	require.NotNil(t, detail.Answers[0].AwardedPoints)
	assert.Equal(t, 4.5, *detail.Answers[0].AwardedPoints)
}

func TestListEventsReturnsEmptyArray(t *testing.T) {
	h := newHarness(t)
	view := h.start(student)

	code, env := h.do(http.MethodGet, "/api/v1/admin/sessions/"+view.Session.ID.String()+"/events", h.graderToken(string(model.PermissionSessionsRead)), nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"events":[]}`, string(env.Data))
}
