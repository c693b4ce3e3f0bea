package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// GradingHandler serves the grader views and the grading endpoint.
type GradingHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		sessionService: sessionService,
		log:            logger.Component(log, "grading_handler"),
	}
}

// GetSession godoc
// GET /api/v1/admin/sessions/:session_id
func (h *GradingHandler) GetSession(c *gin.Context) {
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	detail, err := h.sessionService.GetSessionDetail(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, detail)
}

// ListEvents godoc
// GET /api/v1/admin/sessions/:session_id/events
func (h *GradingHandler) ListEvents(c *gin.Context) {
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	events, err := h.sessionService.ListProctorEvents(c.Request.Context(), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if events == nil {
		events = []model.ProctorEvent{}
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// GradeSession godoc
// POST /api/v1/admin/sessions/:session_id/grade
// Answers left out of the payload score zero.
func (h *GradingHandler) GradeSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.GradeSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	awards := make([]model.AnswerAward, 0, len(req.Answers))
	for _, a := range req.Answers {
		answerID, err := uuid.Parse(a.AnswerID)
		if err != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"answer_id": "must be a valid UUID"})
			return
		}
		awards = append(awards, model.AnswerAward{
			AnswerID:      answerID,
			AwardedPoints: a.AwardedPoints,
			Comment:       a.Comment,
		})
	}

	score, err := h.sessionService.GradeSession(c.Request.Context(), sessionID, claims.UserID, awards, req.Comment)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, score)
}
