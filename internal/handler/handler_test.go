package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/lockstore"
	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/reservation"
	"github.com/iliyamo/flight-seat-reservation/internal/sweeper"
)

const secret = "handler-secret"

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type inventory map[uint64][]model.Seat

func (i inventory) SeatsForFlight(_ context.Context, flightID uint64) ([]model.Seat, error) {
	return i[flightID], nil
}

type bookingStore struct {
	mu     sync.Mutex
	booked []model.Booking
	fail   error
}

func (b *bookingStore) BookedSeats(_ context.Context, flightID uint64) (map[string]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]bool{}
	for _, bk := range b.booked {
		if bk.FlightID == flightID {
			out[bk.SeatID] = true
		}
	}
	return out, nil
}

func (b *bookingStore) CreateBookings(_ context.Context, flightID uint64, holder model.Holder, seats []model.BookingSeat) ([]model.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return nil, b.fail
	}
	var out []model.Booking
	for _, s := range seats {
		bk := model.Booking{
			Reference: fmt.Sprintf("REF-%s", s.SeatID),
			FlightID:  flightID,
			SeatID:    s.SeatID,
			Passenger: s.Passenger,
			UserID:    holder.UserID,
			SessionID: holder.SessionID,
		}
		b.booked = append(b.booked, bk)
		out = append(out, bk)
	}
	return out, nil
}

func (b *bookingStore) ListByHolder(_ context.Context, holder model.Holder) ([]model.Booking, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Booking
	for _, bk := range b.booked {
		if holder.Owns(model.Holder{SessionID: bk.SessionID, UserID: bk.UserID}) {
			out = append(out, bk)
		}
	}
	return out, nil
}

type server struct {
	e        *echo.Echo
	clock    *lease.ManualClock
	bookings *bookingStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	clock := lease.NewManualClock(t0)
	store := lockstore.NewMemoryStore(clock)
	bookings := &bookingStore{}
	inv := inventory{100: {
		{ID: "1A", Row: 1, Column: "A", Class: model.ClassBusiness, IsWindow: true},
		{ID: "1B", Row: 1, Column: "B", Class: model.ClassBusiness, IsAisle: true},
		{ID: "2A", Row: 2, Column: "A", Class: model.ClassEconomy, IsWindow: true},
	}}
	svc := reservation.NewService(store, inv, bookings, reservation.WithClock(clock))
	sw := sweeper.New(store, sweeper.WithClock(clock))

	e := echo.New()
	h := NewSeatHandler(svc, bookings)
	a := NewAdminHandler(svc, sw)
	e.GET("/healthz", Health)
	g := e.Group("/v1", middleware.OptionalJWT(secret))
	g.GET("/flights/:id/layout", h.Layout)
	g.GET("/flights/:id/seats", h.SeatMap)
	g.POST("/flights/:id/reservations", h.Reserve)
	g.POST("/flights/:id/reservations/renew", h.Renew)
	g.DELETE("/flights/:id/reservations", h.Release)
	g.DELETE("/reservations", h.ReleaseSession)
	g.POST("/reservations/release", h.Beacon)
	g.POST("/reservations/claim", h.Claim, middleware.JWTAuth(secret))
	g.POST("/flights/:id/bookings", h.Book)
	g.GET("/bookings", h.MyBookings)
	adm := e.Group("/v1/admin", middleware.JWTAuth(secret), middleware.RequireRole("ADMIN"))
	adm.GET("/flights/:id/locks", a.FlightLocks)
	adm.POST("/locks/sweep", a.Sweep)

	return &server{e: e, clock: clock, bookings: bookings}
}

type call struct {
	method  string
	path    string
	body    string
	session string
	token   string
}

func (s *server) do(t *testing.T, c call) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if c.session != "" {
		req.Header.Set(middleware.SessionHeader, c.session)
	}
	if c.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func userToken(t *testing.T, sub, role string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func seatStatuses(t *testing.T, body map[string]interface{}) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, raw := range body["seats"].([]interface{}) {
		v := raw.(map[string]interface{})
		out[v["id"].(string)] = v["status"].(string)
	}
	return out
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec, _ := s.do(t, call{method: http.MethodGet, path: "/healthz"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReady(t *testing.T) {
	e := echo.New()
	h := &HealthHandler{Checks: map[string]Pinger{
		"mysql": PingFunc(func(context.Context) error { return nil }),
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}}
	e.GET("/readyz", h.Ready)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestLayoutAndSeatMap(t *testing.T) {
	s := newServer(t)

	rec, body := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/layout"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["seats"], 3)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/flights/999/seats"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodGet, path: "/v1/flights/abc/seats"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A"]}`, session: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	_, mine := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s1"})
	assert.Equal(t, map[string]string{"1A": "my_reservation", "1B": "available", "2A": "available"}, seatStatuses(t, mine))

	_, theirs := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s2"})
	assert.Equal(t, "temporarily_reserved", seatStatuses(t, theirs)["1A"])

	_, anon := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats"})
	assert.Equal(t, "temporarily_reserved", seatStatuses(t, anon)["1A"])
}

func TestReserveConflict(t *testing.T) {
	s := newServer(t)
	rec, body := s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A","1B"]}`, session: "s1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, t0.Add(lease.DefaultTTL).Format(time.RFC3339), body["expires_at"])

	rec, body = s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["2A","1B"]}`, session: "s2"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "seat_unavailable", body["code"])
	assert.Equal(t, []interface{}{"1B"}, body["blocking_seat_ids"])
	assert.Contains(t, body["error"], "1B")

	// 2A was rolled back.
	_, m := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s2"})
	assert.Equal(t, "available", seatStatuses(t, m)["2A"])
}

func TestReserveValidation(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name    string
		body    string
		session string
		status  int
		code    string
	}{
		{"no session", `{"seat_ids":["1A"]}`, "", http.StatusBadRequest, "invalid_request"},
		{"no seats", `{"seat_ids":[]}`, "s1", http.StatusBadRequest, "invalid_request"},
		{"bad json", `{"seat_ids":`, "s1", http.StatusBadRequest, "invalid_request"},
		{"unknown seat", `{"seat_ids":["9Z"]}`, "s1", http.StatusBadRequest, "unknown_seat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: tt.body, session: tt.session})
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestRenew(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A"]}`, session: "s1"})

	s.clock.Advance(10 * time.Minute)
	rec, body := s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations/renew", body: `{"seat_ids":["1A"]}`, session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, t0.Add(10*time.Minute+lease.DefaultTTL).Format(time.RFC3339), body["expires_at"])

	s.clock.Advance(lease.DefaultTTL)
	rec, body = s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations/renew", body: `{"seat_ids":["1A"]}`, session: "s1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_held", body["code"])
}

func TestRelease(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A","1B"]}`, session: "s1"})

	rec, body := s.do(t, call{method: http.MethodDelete, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A"]}`, session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"1A"}, body["released"])

	// Someone else cannot release 1B.
	_, body = s.do(t, call{method: http.MethodDelete, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1B"]}`, session: "s2"})
	assert.EqualValues(t, 0, body["released_count"])

	rec, body = s.do(t, call{method: http.MethodDelete, path: "/v1/flights/100/reservations", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["released_count"])

	_, m := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats"})
	assert.Equal(t, "available", seatStatuses(t, m)["1B"])
}

func TestReleaseSessionRoute(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A","2A"]}`, session: "s1"})
	rec, body := s.do(t, call{method: http.MethodDelete, path: "/v1/reservations", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["released_count"])

	rec, _ = s.do(t, call{method: http.MethodDelete, path: "/v1/reservations"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBeacon(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A","1B"]}`, session: "s1"})

	// sendBeacon posts text/plain.
	req := httptest.NewRequest(http.MethodPost, "/v1/reservations/release",
		strings.NewReader(`{"session_id":"s1","flight_id":100,"seat_ids":["1A"]}`))
	req.Header.Set(echo.HeaderContentType, "text/plain;charset=UTF-8")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, m := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s1"})
	st := seatStatuses(t, m)
	assert.Equal(t, "available", st["1A"])
	assert.Equal(t, "my_reservation", st["1B"])

	// Without seats the whole session goes.
	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/reservations/release", session: "s1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, m = s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s1"})
	assert.Equal(t, "available", seatStatuses(t, m)["1B"])

	// Garbage and anonymous beacons are still 204.
	rec, _ = s.do(t, call{method: http.MethodPost, path: "/v1/reservations/release", body: `not json`})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClaimThenBook(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A"]}`, session: "guest1"})

	rec, _ := s.do(t, call{method: http.MethodPost, path: "/v1/reservations/claim", body: `{"session_id":"guest1"}`})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok := userToken(t, "7", "CUSTOMER")
	rec, body := s.do(t, call{method: http.MethodPost, path: "/v1/reservations/claim", body: `{"session_id":"guest1"}`, session: "guest1", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Len(t, body["claimed"], 1)

	// Idempotent.
	_, body = s.do(t, call{method: http.MethodPost, path: "/v1/reservations/claim", body: `{"session_id":"guest1"}`, session: "guest1", token: tok})
	assert.Len(t, body["claimed"], 0)

	// The user owns the seat from any session.
	_, m := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "laptop", token: tok})
	assert.Equal(t, "my_reservation", seatStatuses(t, m)["1A"])

	rec, body = s.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/flights/100/bookings",
		body:    `{"seats":[{"seat_id":"1A","passenger":{"first_name":"Ada","last_name":"Lovelace"}}]}`,
		session: "laptop",
		token:   tok,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []interface{}{"REF-1A"}, body["booking_references"])

	_, m = s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s2"})
	assert.Equal(t, "occupied", seatStatuses(t, m)["1A"])

	rec, body = s.do(t, call{method: http.MethodGet, path: "/v1/bookings", token: tok})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["bookings"], 1)
}

func TestBookExpired(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["2A"]}`, session: "s1"})
	s.clock.Advance(lease.DefaultTTL)

	rec, body := s.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/flights/100/bookings",
		body:    `{"seats":[{"seat_id":"2A","passenger":{"first_name":"A","last_name":"B"}}]}`,
		session: "s1",
	})
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "reservation_expired", body["code"])
	assert.Contains(t, body["error"], "time limit")
}

func TestBookFailureKeepsHold(t *testing.T) {
	s := newServer(t)
	s.bookings.fail = errors.New("db down")
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["2A"]}`, session: "s1"})

	rec, body := s.do(t, call{
		method:  http.MethodPost,
		path:    "/v1/flights/100/bookings",
		body:    `{"seats":[{"seat_id":"2A","passenger":{"first_name":"A","last_name":"B"}}]}`,
		session: "s1",
	})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "booking_failed", body["code"])
	assert.NotContains(t, body["error"], "db down")

	_, m := s.do(t, call{method: http.MethodGet, path: "/v1/flights/100/seats", session: "s1"})
	assert.Equal(t, "my_reservation", seatStatuses(t, m)["2A"])
}

func TestBookValidation(t *testing.T) {
	s := newServer(t)
	rec, _ := s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/bookings", body: `{"seats":[]}`, session: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/bookings", body: `{"seats":[{"seat_id":"1A","passenger":{}}]}`, session: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "1A")
}

func TestAdmin(t *testing.T) {
	s := newServer(t)
	s.do(t, call{method: http.MethodPost, path: "/v1/flights/100/reservations", body: `{"seat_ids":["1A","2A"]}`, session: "s1"})

	rec, _ := s.do(t, call{method: http.MethodGet, path: "/v1/admin/flights/100/locks", token: userToken(t, "7", "CUSTOMER")})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := userToken(t, "1", "ADMIN")
	rec, body := s.do(t, call{method: http.MethodGet, path: "/v1/admin/flights/100/locks", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["locks"], 2)

	s.clock.Advance(lease.DefaultTTL)
	rec, body = s.do(t, call{method: http.MethodPost, path: "/v1/admin/locks/sweep", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	_, body = s.do(t, call{method: http.MethodGet, path: "/v1/admin/flights/100/locks", token: admin})
	assert.Len(t, body["locks"], 0)
}
