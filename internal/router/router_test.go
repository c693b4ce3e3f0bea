package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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

func newTestRouter(t *testing.T) (*gin.Engine, *service.AuthService) {
	t.Helper()
	validator.Setup()
	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      "router-test",
		JWTExpiry:      time.Hour,
		RequestTimeout: time.Second,
	}
	store := memstore.New()
	hub := memstore.NewMonitorHub()
	log := zerolog.Nop()

	svc := service.NewExamSessionService(service.Deps{
		Sessions:    store,
		Events:      store,
		Exams:       store,
		Enrollments: store,
		Dispatcher:  notification.NewMemoryDispatcher(nil, nil, log),
		Monitor:     hub,
		Clock:       clock.Real{},
	}, model.ProctorPolicy{ViolationThreshold: 3}, log)

	auth := service.NewAuthService(cfg)
	limiter := middleware.NewRateLimiter(1, 1)

	r := SetupRouter(auth, limiter, &Handlers{
		StudentPortal: handler.NewStudentPortalHandler(svc, log),
		Grading:       handler.NewGradingHandler(svc, log),
		WS:            handler.NewWSHandler(svc, limiter, cfg.RequestTimeout, log, nil),
		Monitor:       handler.NewMonitorHandler(svc, hub, log),
		Health:        handler.NewHealthHandler(nil, log),
	}, cfg)
	return r, auth
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
		Metadata struct {
			RequestID string `json:"request_id"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.NotEmpty(t, body.Metadata.RequestID)
}

func TestRouteGuards(t *testing.T) {
	r, auth := newTestRouter(t)
	studentTok, err := auth.GenerateStudentToken(5)
	require.NoError(t, err)
	adminTok, err := auth.GenerateAdminToken(1, []string{string(model.PermissionSessionsRead)})
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"student route without token", http.MethodGet, "/api/v1/student/sessions/" + zeroID, "", http.StatusUnauthorized},
		{"student route with admin token", http.MethodGet, "/api/v1/student/sessions/" + zeroID, adminTok, http.StatusForbidden},
		{"admin route with student token", http.MethodGet, "/api/v1/admin/sessions/" + zeroID, studentTok, http.StatusForbidden},
		{"grade without grade permission", http.MethodPost, "/api/v1/admin/sessions/" + zeroID + "/grade", adminTok, http.StatusForbidden},
		{"unknown session", http.MethodGet, "/api/v1/admin/sessions/" + zeroID, adminTok, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestStudentMutationsAreRateLimited(t *testing.T) {
	r, auth := newTestRouter(t)
	tok, err := auth.GenerateStudentToken(5)
	require.NoError(t, err)

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/student/sessions/"+zeroID+"/events", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	// The first request passes the limiter and fails later in the handler.
	assert.NotEqual(t, http.StatusTooManyRequests, send())
	assert.Equal(t, http.StatusTooManyRequests, send())
}

const zeroID = "00000000-0000-0000-0000-000000000000"
