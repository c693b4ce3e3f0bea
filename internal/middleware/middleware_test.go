package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetClaims(c).UserID})
	})
	r.GET("/t", handlers...)
	return r
}

func do(r http.Handler, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireStudentJWT(t *testing.T) {
	auth := newAuth()
	student, err := auth.GenerateStudentToken(7)
	require.NoError(t, err)
	admin, err := auth.GenerateAdminToken(1, nil)
	require.NoError(t, err)

	r := newEngine(RequireStudentJWT(auth))

	assert.Equal(t, http.StatusOK, do(r, "/t", student).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/t", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/t", "garbage").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/t", admin).Code)
}

func TestRequireAdminJWTAcceptsQueryToken(t *testing.T) {
	auth := newAuth()
	admin, err := auth.GenerateAdminToken(1, []string{string(model.PermissionSessionsRead)})
	require.NoError(t, err)

	r := newEngine(RequireAdminJWT(auth))
	assert.Equal(t, http.StatusOK, do(r, "/t?token="+admin, "").Code)
}

func TestRequireStudentWSAuthIgnoresHeader(t *testing.T) {
	auth := newAuth()
	student, err := auth.GenerateStudentToken(7)
	require.NoError(t, err)

	r := newEngine(RequireStudentWSAuth(auth))
	assert.Equal(t, http.StatusUnauthorized, do(r, "/t", student).Code)
	assert.Equal(t, http.StatusOK, do(r, "/t?token="+student, "").Code)
}

func TestRequirePermission(t *testing.T) {
	auth := newAuth()
	reader, err := auth.GenerateAdminToken(1, []string{string(model.PermissionSessionsRead)})
	require.NoError(t, err)
	grader, err := auth.GenerateAdminToken(2, []string{string(model.PermissionSessionsGrade)})
	require.NoError(t, err)

	r := newEngine(RequireAdminJWT(auth), RequirePermission(string(model.PermissionSessionsGrade)))
	assert.Equal(t, http.StatusForbidden, do(r, "/t", reader).Code)
	assert.Equal(t, http.StatusOK, do(r, "/t", grader).Code)

	either := newEngine(RequireAdminJWT(auth), RequireAnyPermission(string(model.PermissionSessionsRead), string(model.PermissionSessionsGrade)))
	assert.Equal(t, http.StatusOK, do(either, "/t", reader).Code)
}

func TestRateLimiterPerUser(t *testing.T) {
	auth := newAuth()
	alice, err := auth.GenerateStudentToken(1)
	require.NoError(t, err)
	bob, err := auth.GenerateStudentToken(2)
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	r := newEngine(RequireStudentJWT(auth), rl.Middleware())

	assert.Equal(t, http.StatusOK, do(r, "/t", alice).Code)
	assert.Equal(t, http.StatusOK, do(r, "/t", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "/t", alice).Code)

	// Buckets are independent per user.
	assert.Equal(t, http.StatusOK, do(r, "/t", bob).Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, do(r, "/t", alice).Code)
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("ip:1.2.3.4"))
	now = now.Add(visitorIdleTTL + time.Second)
	rl.cleanup()

	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/t", NoStore(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := do(r, "/t", "")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRequestTimeoutSetsDeadline(t *testing.T) {
	r := gin.New()
	r.GET("/t", RequestTimeout(time.Minute), func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		c.JSON(http.StatusOK, gin.H{"has_deadline": ok})
	})
	w := do(r, "/t", "")
	assert.JSONEq(t, `{"has_deadline":true}`, w.Body.String())
}
