package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const keepAliveInterval = 30 * time.Second

// MonitorFeed streams raw live-monitor payloads for one exam.
type MonitorFeed interface {
	Subscribe(ctx context.Context, examID uuid.UUID) (<-chan string, func() error, error)
}

type MonitorHandler struct {
	sessionService *service.ExamSessionService
	feed           MonitorFeed
	keepAlive      time.Duration
	log            zerolog.Logger
}

func NewMonitorHandler(sessionService *service.ExamSessionService, feed MonitorFeed, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		sessionService: sessionService,
		feed:           feed,
		keepAlive:      keepAliveInterval,
		log:            logger.Component(log, "monitor_handler"),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Streams session started / proctor event / submitted / graded events.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	exam, err := h.sessionService.GetExam(reqCtx, examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	events, closeFeed, err := h.feed.Subscribe(reqCtx, examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Monitor subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	defer closeFeed()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", map[string]interface{}{
		"type": "snapshot",
		"data": map[string]interface{}{
			"exam": map[string]interface{}{
				"id":               examID.String(),
				"title":            exam.Title,
				"duration_minutes": exam.DurationMinutes,
				"start_time":       exam.StartTime,
				"end_time":         exam.EndTime,
				"hard_deadline":    exam.HardDeadline,
			},
		},
	})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(h.keepAlive)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Grader attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Grader disconnected from live monitor SSE")
			return

		case payload, open := <-events:
			if !open {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSEData(c, []byte(payload))

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

func writeSSEData(c *gin.Context, data []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
