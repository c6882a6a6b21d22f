package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/flight-seat-reservation/internal/config"
)

const secret = "test-secret"

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func serve(e *echo.Echo, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func holderEcho(mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/who", func(c echo.Context) error {
		h := CurrentHolder(c)
		return c.String(http.StatusOK, h.Key()+"|"+holderKey(c))
	}, mws...)
	return e
}

func TestJWTAuth(t *testing.T) {
	e := holderEcho(JWTAuth(secret))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer nope", http.StatusUnauthorized, ""},
		{"string subject", "Bearer " + token(t, jwt.MapClaims{"sub": "42"}), http.StatusOK, "user:42|user:42"},
		{"numeric user_id", "Bearer " + token(t, jwt.MapClaims{"user_id": 7}), http.StatusOK, "user:7|user:7"},
		{"no subject", "Bearer " + token(t, jwt.MapClaims{"role": "ADMIN"}), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + token(t, jwt.MapClaims{"sub": "1", "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := map[string]string{}
			if tt.header != "" {
				hdr["Authorization"] = tt.header
			}
			rec := serve(e, http.MethodGet, "/who", hdr)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestJWTAuthRejectsOtherSecret(t *testing.T) {
	e := holderEcho(JWTAuth(secret))
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1"}).SignedString([]byte("other"))
	require.NoError(t, err)
	rec := serve(e, http.MethodGet, "/who", map[string]string{"Authorization": "Bearer " + s})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalJWT(t *testing.T) {
	e := holderEcho(OptionalJWT(secret))

	rec := serve(e, http.MethodGet, "/who", map[string]string{SessionHeader: "s1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session:s1|session:s1", rec.Body.String())

	rec = serve(e, http.MethodGet, "/who?session_id=s2", nil)
	assert.Equal(t, "session:s2|session:s2", rec.Body.String())

	rec = serve(e, http.MethodGet, "/who", map[string]string{
		SessionHeader:   "s1",
		"Authorization": "Bearer " + token(t, jwt.MapClaims{"sub": "9"}),
	})
	assert.Equal(t, "user:9|user:9", rec.Body.String())

	rec = serve(e, http.MethodGet, "/who", map[string]string{"Authorization": "Bearer broken"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/who", nil)
	assert.Equal(t, "session:|anon", rec.Body.String())
}

func TestSessionIDTooLong(t *testing.T) {
	e := holderEcho()
	rec := serve(e, http.MethodGet, "/who", map[string]string{SessionHeader: strings.Repeat("x", maxSessionIDLen+1)})
	assert.Equal(t, "session:|anon", rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		JWTAuth(secret), RequireRole("ADMIN"))

	rec := serve(e, http.MethodGet, "/admin", map[string]string{
		"Authorization": "Bearer " + token(t, jwt.MapClaims{"sub": "1", "role": "ADMIN"}),
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/admin", map[string]string{
		"Authorization": "Bearer " + token(t, jwt.MapClaims{"sub": "1", "role": "CUSTOMER"}),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func rateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            2 * time.Hour,
		KeyStrategy:    "holder",
		Prefix:         "rl",
	}
}

func TestTokenBucket(t *testing.T) {
	_, rdb := newRedis(t)
	e := holderEcho(NewTokenBucket(rateConfig(), rdb, zap.NewNop()))
	s1 := map[string]string{SessionHeader: "s1"}

	for i := 0; i < 2; i++ {
		rec := serve(e, http.MethodGet, "/who", s1)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := serve(e, http.MethodGet, "/who", s1)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too_many_requests")

	// Another session has its own bucket.
	rec = serve(e, http.MethodGet, "/who", map[string]string{SessionHeader: "s2"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTokenBucketFailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	e := holderEcho(NewTokenBucket(rateConfig(), rdb, zap.NewNop()))
	mr.Close()
	for i := 0; i < 3; i++ {
		rec := serve(e, http.MethodGet, "/who", map[string]string{SessionHeader: "s1"})
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestTokenBucketDisabled(t *testing.T) {
	cfg := rateConfig()
	cfg.Enabled = false
	e := holderEcho(NewTokenBucket(cfg, nil, nil))
	rec := serve(e, http.MethodGet, "/who", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildRateKey(t *testing.T) {
	tests := []struct {
		strategy string
		session  string
		want     string
	}{
		{"ip", "s1", "rl:ip:192.0.2.1"},
		{"holder", "s1", "rl:holder:session:s1"},
		{"holder", "", "rl:holder:anon"},
		{"ip_route", "s1", "rl:ip:192.0.2.1:route:GET /flights/:id/seats"},
		{"holder_route", "s1", "rl:holder:session:s1:route:GET /flights/:id/seats"},
		{"holder_route", "", "rl:ip:192.0.2.1:route:GET /flights/:id/seats"},
	}
	for _, tt := range tests {
		t.Run(tt.strategy+"/"+tt.session, func(t *testing.T) {
			cfg := rateConfig()
			cfg.KeyStrategy = tt.strategy
			e := echo.New()
			var got string
			e.GET("/flights/:id/seats", func(c echo.Context) error {
				got = buildRateKey(cfg, c)
				return nil
			})
			hdr := map[string]string{}
			if tt.session != "" {
				hdr[SessionHeader] = tt.session
			}
			serve(e, http.MethodGet, "/flights/1/seats", hdr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:      true,
		Methods:      map[string]bool{"GET": true},
		TTL:          time.Minute,
		KeyStrategy:  "route_query",
		Prefix:       "cache",
		MaxBodyBytes: 1 << 20,
	}
}

func TestRedisCache(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	e := echo.New()
	e.GET("/flights/:id/layout", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		return c.JSON(http.StatusOK, echo.Map{"flight": c.Param("id")})
	}, NewRedisCache(cacheConfig(), rdb))

	first := serve(e, http.MethodGet, "/flights/1/layout", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(e, http.MethodGet, "/flights/1/layout", nil)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, first.Header().Get(echo.HeaderContentType), second.Header().Get(echo.HeaderContentType))

	other := serve(e, http.MethodGet, "/flights/2/layout", nil)
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))
	assert.Contains(t, other.Body.String(), `"2"`)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestRedisCacheSkipsErrors(t *testing.T) {
	_, rdb := newRedis(t)
	var calls int32
	e := echo.New()
	e.GET("/flights/:id/layout", func(c echo.Context) error {
		atomic.AddInt32(&calls, 1)
		return c.JSON(http.StatusNotFound, echo.Map{"error": "flight not found"})
	}, NewRedisCache(cacheConfig(), rdb))

	serve(e, http.MethodGet, "/flights/9/layout", nil)
	rec := serve(e, http.MethodGet, "/flights/9/layout", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(201, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)
	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, 201, status)
	assert.Equal(t, hdr, got)
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := echo.New()
	e.Use(RequestLogger(zap.New(core)))
	e.GET("/ok", func(c echo.Context) error {
		Logger(c).Info("inside")
		return c.NoContent(http.StatusOK)
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "down")
	})

	rec := serve(e, http.MethodGet, "/ok", map[string]string{echo.HeaderXRequestID: "req-1"})
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))

	rec = serve(e, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	inside := logs.FilterMessage("inside").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "req-1", inside[0].ContextMap()["request_id"])

	errs := logs.FilterMessage("request").FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errs, 1)
	assert.EqualValues(t, http.StatusServiceUnavailable, errs[0].ContextMap()["status"])
}

func TestLoggerWithoutChain(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.NotNil(t, Logger(c))
}
