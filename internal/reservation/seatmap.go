package reservation

import (
	"context"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// GetSeatMap returns the flight's seats in inventory order, each labelled
// relative to viewer.  A booking always wins over a reservation, and a
// reservation whose expiry has passed reads as available whether or not
// the sweeper has removed it yet.  The call never mutates state.
func (s *Service) GetSeatMap(ctx context.Context, flightID uint64, viewer model.Holder) ([]model.SeatView, error) {
	seats, err := s.loadSeats(ctx, flightID)
	if err != nil {
		return nil, err
	}
	booked, err := s.bookings.BookedSeats(ctx, flightID)
	if err != nil {
		return nil, storageErr("load bookings", err)
	}
	locks, err := s.store.ListForFlight(ctx, flightID)
	if err != nil {
		return nil, storageErr("list locks", err)
	}

	now := s.clock.Now()
	out := make([]model.SeatView, len(seats))
	for i, seat := range seats {
		v := model.SeatView{Seat: seat, Status: model.StatusAvailable}
		switch r, locked := locks[seat.ID]; {
		case booked[seat.ID]:
			v.Status = model.StatusOccupied
		case locked && r.ActiveAt(now) && viewer.Owns(r.Holder):
			v.Status = model.StatusMyReservation
			exp := r.ExpiresAt
			v.ExpiresAt = &exp
		case locked && r.ActiveAt(now):
			v.Status = model.StatusTemporarilyReserved
		}
		out[i] = v
	}
	return out, nil
}

// Layout returns the static seat inventory of a flight.
func (s *Service) Layout(ctx context.Context, flightID uint64) ([]model.Seat, error) {
	return s.loadSeats(ctx, flightID)
}

// loadSeats reads the inventory with seat ids in the same normal form as
// request ids, so lookups into locks and bookings match whatever case
// the inventory was configured with.
func (s *Service) loadSeats(ctx context.Context, flightID uint64) ([]model.Seat, error) {
	seats, err := s.inventory.SeatsForFlight(ctx, flightID)
	if err != nil {
		return nil, storageErr("load seats", err)
	}
	if len(seats) == 0 {
		return nil, ErrFlightNotFound
	}
	out := make([]model.Seat, len(seats))
	for i, seat := range seats {
		seat.ID = normalizeSeatID(seat.ID)
		out[i] = seat
	}
	return out, nil
}
