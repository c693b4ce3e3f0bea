package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one exam session over a WebSocket. Every action has
// the same semantics as its REST counterpart.
type WSHandler struct {
	sessionService *service.ExamSessionService
	limiter        *middleware.RateLimiter
	actionTimeout  time.Duration
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter may be nil.
func NewWSHandler(
	sessionService *service.ExamSessionService,
	limiter *middleware.RateLimiter,
	actionTimeout time.Duration,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		limiter:        limiter,
		actionTimeout:  actionTimeout,
		log:            logger.Component(log, "ws_handler"),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	// Ownership and the deadline are checked before the upgrade so that
	// failures are plain HTTP errors.
	view, err := h.sessionService.GetSessionState(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	if err := ws.WriteTyped(conn, ws.StateResponse{Event: ws.EventState, State: view}); err != nil {
		return
	}
	if view.State != model.SessionStateCreated {
		return
	}

	s := &wsSession{h: h, conn: conn, log: wsLog, ctx: c.Request.Context(), sessionID: sessionID, userID: claims.UserID}
	for {
		msg, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if closed := s.dispatch(msg); closed {
			wsLog.Info().Msg("Session closed, ending stream")
			return
		}
	}
}

type wsSession struct {
	h         *WSHandler
	conn      *websocket.Conn
	log       zerolog.Logger
	ctx       context.Context
	sessionID uuid.UUID
	userID    int
}

// dispatch handles one frame and reports whether the session is now closed.
func (s *wsSession) dispatch(msg []byte) bool {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.writeCode(response.ErrInvalidPayload, nil)
		return false
	}

	switch env.Action {
	case ws.ActionPing:
		ws.WriteTyped(s.conn, ws.PongResponse{Event: ws.EventPong})
		return false
	case ws.ActionAutosave:
		if !s.allow() {
			return false
		}
		return s.autosave(msg)
	case ws.ActionProctor:
		if !s.allow() {
			return false
		}
		return s.proctor(msg)
	case ws.ActionSubmit:
		return s.submit()
	default:
		s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		s.writeCode(response.ErrInvalidPayload, map[string]string{"action": "unknown action"})
		return false
	}
}

func (s *wsSession) autosave(msg []byte) bool {
	var req ws.AutosaveRequest
	if !s.decode(msg, &req) {
		return false
	}
	questionID, _ := uuid.Parse(req.QuestionID)

	ctx, cancel := s.actionContext()
	defer cancel()

	answer, err := s.h.sessionService.SaveAnswer(ctx, s.sessionID, s.userID, questionID, req.Text)
	if err != nil {
		return s.writeErr(err)
	}
	ws.WriteTyped(s.conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: req.QuestionID, SavedAt: answer.UpdatedAt})
	return false
}

func (s *wsSession) proctor(msg []byte) bool {
	var req ws.ProctorRequest
	if !s.decode(msg, &req) {
		return false
	}

	ctx, cancel := s.actionContext()
	defer cancel()

	result, err := s.h.sessionService.RecordProctorEvent(ctx, s.sessionID, s.userID, req.Type, req.Detail)
	if err != nil {
		return s.writeErr(err)
	}

	ws.WriteTyped(s.conn, ws.ViolationResponse{
		Event:          ws.EventViolation,
		EventType:      req.Type,
		Counted:        result.Decision.Counted,
		ViolationCount: result.Decision.Count,
		Threshold:      result.Decision.Threshold,
		AutoSubmitted:  result.Submitted,
	})
	if result.State == model.SessionStateCreated {
		return false
	}
	return s.pushSubmitted(ctx)
}

func (s *wsSession) submit() bool {
	ctx, cancel := s.actionContext()
	defer cancel()

	sess, err := s.h.sessionService.SubmitSession(ctx, s.sessionID, s.userID)
	if err != nil {
		return s.writeErr(err)
	}
	s.writeSubmitted(sess)
	return true
}

// pushSubmitted reloads the closed session so the client learns the cause
// that actually won.
func (s *wsSession) pushSubmitted(ctx context.Context) bool {
	view, err := s.h.sessionService.GetSessionState(ctx, s.sessionID, s.userID)
	if err != nil {
		return s.writeErr(err)
	}
	s.writeSubmitted(view.Session)
	return true
}

func (s *wsSession) writeSubmitted(sess *model.ExamSession) {
	resp := ws.SubmittedResponse{Event: ws.EventSubmitted}
	if sess.SubmitCause != nil {
		resp.Cause = string(*sess.SubmitCause)
	}
	if sess.SubmittedAt != nil {
		resp.SubmittedAt = *sess.SubmittedAt
	}
	ws.WriteTyped(s.conn, resp)
}

func (s *wsSession) decode(msg []byte, dst interface{}) bool {
	if err := json.Unmarshal(msg, dst); err != nil {
		s.writeCode(response.ErrInvalidPayload, nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		s.writeCode(response.ErrValidation, fields)
		return false
	}
	return true
}

func (s *wsSession) allow() bool {
	if s.h.limiter == nil || s.h.limiter.Allow(middleware.UserKey(s.userID)) {
		return true
	}
	s.writeCode(response.ErrRateLimitExceeded, nil)
	return false
}

// writeErr reports err to the client. A closed session ends the stream.
func (s *wsSession) writeErr(err error) bool {
	apiErr := classify(err)
	if apiErr.status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Stream action failed")
	}
	s.writeCode(apiErr.code, apiErr.fields)
	return apiErr.code == response.ErrSessionClosed
}

func (s *wsSession) writeCode(code response.ErrCode, fields map[string]string) {
	ws.WriteError(s.conn, string(code), response.GetMessage(code), fields)
}

func (s *wsSession) actionContext() (context.Context, context.CancelFunc) {
	if s.h.actionTimeout <= 0 {
		return context.WithCancel(s.ctx)
	}
	return context.WithTimeout(s.ctx, s.h.actionTimeout)
}
