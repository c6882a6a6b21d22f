package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/reservation"
)

// parseFlightID reads the :id path parameter as a positive flight id.
func parseFlightID(c echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid flight id")
	}
	return id, nil
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "invalid_request"})
}

// writeError maps reservation errors to HTTP responses.  Seat level
// errors name the seats involved so clients can update their seat map.
func writeError(c echo.Context, err error) error {
	var (
		unavailable *reservation.SeatUnavailableError
		unknown     *reservation.UnknownSeatError
		notHeld     *reservation.NotHeldError
		expired     *reservation.ReservationExpiredError
	)
	switch {
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":             unavailable.Error(),
			"code":              "seat_unavailable",
			"blocking_seat_ids": unavailable.SeatIDs,
		})
	case errors.As(err, &unknown):
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":    unknown.Error(),
			"code":     "unknown_seat",
			"seat_ids": unknown.SeatIDs,
		})
	case errors.As(err, &notHeld):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":    notHeld.Error(),
			"code":     "not_held",
			"seat_ids": notHeld.SeatIDs,
		})
	case errors.As(err, &expired):
		return c.JSON(http.StatusGone, echo.Map{
			"error":    expired.Error(),
			"code":     "reservation_expired",
			"seat_ids": expired.SeatIDs,
		})
	case errors.Is(err, reservation.ErrBookingFailed):
		middleware.Logger(c).Error("booking failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{
			"error": "the booking could not be created; your seats are still held",
			"code":  "booking_failed",
		})
	case errors.Is(err, reservation.ErrFlightNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "flight not found", "code": "flight_not_found"})
	case errors.Is(err, reservation.ErrInvalidRequest):
		return badRequest(c, err.Error())
	}
	middleware.Logger(c).Error("request failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": "internal"})
}

var errMissingHolder = errors.New("missing " + middleware.SessionHeader + " header")

// currentHolder resolves the caller and rejects requests that carry
// neither a session id nor a user.
func currentHolder(c echo.Context) (model.Holder, error) {
	h := middleware.CurrentHolder(c)
	if h.IsZero() {
		return h, errMissingHolder
	}
	return h, nil
}
