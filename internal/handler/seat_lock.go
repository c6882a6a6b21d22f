package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/ownership"
	"github.com/iliyamo/flight-seat-reservation/internal/reservation"
)

// BookingLister lists the bookings a holder has made.
type BookingLister interface {
	ListByHolder(ctx context.Context, holder model.Holder) ([]model.Booking, error)
}

// SeatHandler exposes seat maps, reservations and bookings.  Callers are
// identified by their session id and, when logged in, their user id; see
// middleware.CurrentHolder.
type SeatHandler struct {
	Svc      *reservation.Service
	Bookings BookingLister
}

// NewSeatHandler panics when svc is nil.  bookings may be nil, in which
// case listing bookings is unavailable.
func NewSeatHandler(svc *reservation.Service, bookings BookingLister) *SeatHandler {
	if svc == nil {
		panic("nil reservation service passed to NewSeatHandler")
	}
	return &SeatHandler{Svc: svc, Bookings: bookings}
}

type seatIDsRequest struct {
	SeatIDs []string `json:"seat_ids"`
}

// Layout handles GET /v1/flights/:id/layout.  The response does not
// depend on the caller and may be cached.
func (h *SeatHandler) Layout(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	seats, err := h.Svc.Layout(c.Request().Context(), flightID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"flight_id": flightID, "seats": seats})
}

// SeatMap handles GET /v1/flights/:id/seats.  Anonymous callers see no
// my_reservation entries.
func (h *SeatHandler) SeatMap(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	views, err := h.Svc.GetSeatMap(c.Request().Context(), flightID, middleware.CurrentHolder(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"flight_id":   flightID,
		"server_time": h.Svc.Now(),
		"seats":       views,
	})
}

// Reserve handles POST /v1/flights/:id/reservations.
func (h *SeatHandler) Reserve(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	holder, err := currentHolder(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var body seatIDsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	hold, err := h.Svc.ReserveSeats(c.Request().Context(), flightID, body.SeatIDs, holder)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, hold)
}

// Renew handles POST /v1/flights/:id/reservations/renew.
func (h *SeatHandler) Renew(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	holder, err := currentHolder(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var body seatIDsRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.SeatIDs) == 0 {
		return badRequest(c, "seat_ids is required")
	}
	hold, err := h.Svc.RenewReservation(c.Request().Context(), flightID, body.SeatIDs, holder)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, hold)
}

// Release handles DELETE /v1/flights/:id/reservations.  Without seat_ids
// every reservation of the caller is released, on any flight.
func (h *SeatHandler) Release(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	holder, err := currentHolder(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var body seatIDsRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	ctx := c.Request().Context()
	if len(body.SeatIDs) == 0 {
		n, err := h.Svc.ReleaseSession(ctx, holder)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"released_count": n})
	}
	released, err := h.Svc.ReleaseSeats(ctx, flightID, body.SeatIDs, holder)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released, "released_count": len(released)})
}

// ReleaseSession handles DELETE /v1/reservations.
func (h *SeatHandler) ReleaseSession(c echo.Context) error {
	holder, err := currentHolder(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	n, err := h.Svc.ReleaseSession(c.Request().Context(), holder)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released_count": n})
}

type beaconRequest struct {
	SessionID string   `json:"session_id"`
	FlightID  uint64   `json:"flight_id"`
	SeatIDs   []string `json:"seat_ids"`
}

const maxBeaconBytes = 16 << 10

// Beacon handles POST /v1/reservations/release, sent by browsers on page
// unload.  Beacons arrive as text/plain, so the body is decoded by hand.
// The release is advisory: the response is always 204 and failures are
// only logged, expiry reclaims anything left behind.
func (h *SeatHandler) Beacon(c echo.Context) error {
	var body beaconRequest
	raw, _ := io.ReadAll(io.LimitReader(c.Request().Body, maxBeaconBytes))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			middleware.Logger(c).Debug("beacon: bad body", zap.Error(err))
		}
	}
	holder := middleware.CurrentHolder(c)
	if body.SessionID != "" {
		holder.SessionID = body.SessionID
	}
	if holder.IsZero() {
		return c.NoContent(http.StatusNoContent)
	}

	// The browser does not wait for the response.
	ctx := context.WithoutCancel(c.Request().Context())
	var err error
	if body.FlightID != 0 && len(body.SeatIDs) > 0 {
		_, err = h.Svc.ReleaseSeats(ctx, body.FlightID, body.SeatIDs, holder)
	} else {
		_, err = h.Svc.ReleaseSession(ctx, holder)
	}
	if err != nil {
		middleware.Logger(c).Warn("beacon release failed", zap.String("holder", holder.Key()), zap.Error(err))
	}
	return c.NoContent(http.StatusNoContent)
}

type claimRequest struct {
	SessionID string `json:"session_id"`
}

// Claim handles POST /v1/reservations/claim.  It must run behind JWTAuth:
// the guest session named in the body (or the X-Session-ID header) hands
// its reservations to the authenticated user.
func (h *SeatHandler) Claim(c echo.Context) error {
	userID := middleware.CurrentUserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized", "code": "unauthorized"})
	}
	var body claimRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	session := body.SessionID
	if session == "" {
		session = middleware.SessionID(c)
	}
	if session == "" {
		return badRequest(c, "session_id is required")
	}

	from := model.Holder{SessionID: session}
	to := model.Holder{SessionID: middleware.SessionID(c), UserID: userID}
	res, err := h.Svc.Claim(c.Request().Context(), from, to)
	if errors.Is(err, ownership.ErrInvalidClaim) {
		return badRequest(c, err.Error())
	}
	if err != nil {
		return writeError(c, err)
	}
	if res.Claimed == nil {
		res.Claimed = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"claimed": res.Claimed,
		"skipped": res.Skipped,
	})
}

type bookingRequest struct {
	Seats []model.BookingSeat `json:"seats"`
}

// Book handles POST /v1/flights/:id/bookings.  Every seat must still be
// held by the caller; on success the seats become occupied.
func (h *SeatHandler) Book(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	holder, err := currentHolder(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var body bookingRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.Seats) == 0 {
		return badRequest(c, "seats is required")
	}
	for _, s := range body.Seats {
		if s.Passenger.FirstName == "" || s.Passenger.LastName == "" {
			return badRequest(c, "passenger first_name and last_name are required for seat "+s.SeatID)
		}
	}
	bookings, err := h.Svc.ConfirmBooking(c.Request().Context(), flightID, body.Seats, holder)
	if err != nil {
		return writeError(c, err)
	}
	refs := make([]string, 0, len(bookings))
	for _, b := range bookings {
		refs = append(refs, b.Reference)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"booking_references": refs,
		"bookings":           bookings,
	})
}

// MyBookings handles GET /v1/bookings.
func (h *SeatHandler) MyBookings(c echo.Context) error {
	if h.Bookings == nil {
		return c.JSON(http.StatusNotImplemented, echo.Map{"error": "bookings listing unavailable", "code": "unavailable"})
	}
	holder, err := currentHolder(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	list, err := h.Bookings.ListByHolder(c.Request().Context(), holder)
	if err != nil {
		middleware.Logger(c).Error("list bookings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error", "code": "internal"})
	}
	if list == nil {
		list = []model.Booking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": list})
}
