package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/middleware"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/reservation"
	"github.com/iliyamo/flight-seat-reservation/internal/sweeper"
)

// AdminHandler gives operators a view of live locks and a manual sweep.
type AdminHandler struct {
	Svc     *reservation.Service
	Sweeper *sweeper.Sweeper
}

func NewAdminHandler(svc *reservation.Service, sw *sweeper.Sweeper) *AdminHandler {
	if svc == nil || sw == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Svc: svc, Sweeper: sw}
}

// FlightLocks handles GET /v1/admin/flights/:id/locks.
func (h *AdminHandler) FlightLocks(c echo.Context) error {
	flightID, err := parseFlightID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	locks, err := h.Svc.FlightLocks(c.Request().Context(), flightID)
	if err != nil {
		return writeError(c, err)
	}
	if locks == nil {
		locks = []model.Reservation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"flight_id": flightID, "locks": locks})
}

// Sweep handles POST /v1/admin/locks/sweep.
func (h *AdminHandler) Sweep(c echo.Context) error {
	keys, err := h.Sweeper.SweepOnce(c.Request().Context())
	if err != nil {
		middleware.Logger(c).Error("manual sweep", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed", "code": "internal"})
	}
	if keys == nil {
		keys = []model.SeatKey{}
	}
	return c.JSON(http.StatusOK, echo.Map{"evicted": keys, "count": len(keys)})
}
