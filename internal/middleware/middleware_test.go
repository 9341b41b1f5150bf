package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinic-finder-server/internal/booking"
	"clinic-finder-server/internal/config"
	"clinic-finder-server/internal/logging"
	"clinic-finder-server/internal/models"
	"clinic-finder-server/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testCfg = &config.Config{
	JWTSecret:                 "access-secret",
	JWTRefreshSecret:          "refresh-secret",
	JWTExpirationMinutes:      15,
	JWTRefreshExpirationHours: 24,
}

func bearer(t *testing.T, id string, role models.Role) string {
	t.Helper()
	user := &models.User{Role: role}
	user.ID = id
	access, _, err := utils.GenerateTokens(user, testCfg)
	require.NoError(t, err)
	return "Bearer " + access
}

func principalEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, GetPrincipal(c))
	})
	r.GET("/who", handlers...)
	return r
}

func call(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := principalEngine(AuthMiddleware(testCfg))

	w := call(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(r, "Token abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(r, "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = call(r, bearer(t, "user-1", models.RoleUser))
	require.Equal(t, http.StatusOK, w.Code)
	var p booking.Principal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, booking.Principal{UserID: "user-1", Role: models.RoleUser}, p)
}

func TestOptionalAuth(t *testing.T) {
	r := principalEngine(OptionalAuth(testCfg))

	w := call(r, "")
	require.Equal(t, http.StatusOK, w.Code)
	var guest booking.Principal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &guest))
	assert.True(t, guest.IsGuest())

	w = call(r, bearer(t, "user-9", models.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	var p booking.Principal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.IsAdmin())

	w = call(r, "Bearer tampered")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleAuthMiddleware(t *testing.T) {
	r := principalEngine(AuthMiddleware(testCfg), RoleAuthMiddleware(models.RoleAdmin, models.RoleClinicManager))

	assert.Equal(t, http.StatusOK, call(r, bearer(t, "m", models.RoleClinicManager)).Code)
	assert.Equal(t, http.StatusForbidden, call(r, bearer(t, "m", models.RoleClinicManagerInactive)).Code)
	assert.Equal(t, http.StatusForbidden, call(r, bearer(t, "u", models.RoleUser)).Code)

	noAuth := principalEngine(RoleAuthMiddleware(models.RoleAdmin))
	assert.Equal(t, http.StatusInternalServerError, call(noAuth, "").Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info")

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/clinics/:id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/clinics/7", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "/clinics/:id", line["path"])
	assert.EqualValues(t, 200, line["status"])
	assert.Equal(t, "req-123", line["request_id"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clinics/8", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter(2, time.Minute)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	ok, _ = rl.Allow(ctx, "5.6.7.8")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = rl.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
	assert.Len(t, rl.visitors, 1)
}

func TestRedisRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRedisRateLimiter(rdb, 3, time.Minute, "guest")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("guest:10.0.0.1"))
	mr.FastForward(time.Minute + time.Second)

	ok, err = rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRateLimiterUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, err := NewRedisRateLimiter(rdb, 3, time.Minute, "").Allow(context.Background(), "k")
	assert.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestRateLimitMiddleware(t *testing.T) {
	build := func(l Limiter, failOpen bool) *gin.Engine {
		r := gin.New()
		r.POST("/book", RateLimit(l, nil, logging.Discard(), failOpen), func(c *gin.Context) {
			c.Status(http.StatusCreated)
		})
		return r
	}
	post := func(r http.Handler) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/book", nil))
		return w.Code
	}

	r := build(NewMemoryRateLimiter(1, time.Hour), false)
	assert.Equal(t, http.StatusCreated, post(r))
	assert.Equal(t, http.StatusTooManyRequests, post(r))

	assert.Equal(t, http.StatusCreated, post(build(failingLimiter{}, true)))
	assert.Equal(t, http.StatusServiceUnavailable, post(build(failingLimiter{}, false)))
}
