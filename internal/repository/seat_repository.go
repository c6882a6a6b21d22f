package repository // repository defines data access for seats

import (
	"context"      // context allows query cancellation and timeouts
	"database/sql" // sql provides DB primitives

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// SeatRepo reads the static seat layout of the aircraft operating a
// flight.  The layout is immutable once configured, so it is safe to
// cache.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// SeatsForFlight returns every seat of the flight's aircraft ordered by
// row then column.  An unknown flight yields an empty slice.
func (r *SeatRepo) SeatsForFlight(ctx context.Context, flightID uint64) ([]model.Seat, error) {
	const q = `SELECT s.seat_id, s.seat_row, s.seat_column, s.class, s.is_window, s.is_aisle, s.is_emergency_exit
	           FROM flights f
	           JOIN aircraft_seats s ON s.aircraft_id = f.aircraft_id
	           WHERE f.id = ?
	           ORDER BY s.seat_row, s.seat_column`
	rows, err := r.db.QueryContext(ctx, q, flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Seat
	for rows.Next() {
		var (
			s     model.Seat
			class string
		)
		if err := rows.Scan(&s.ID, &s.Row, &s.Column, &class, &s.IsWindow, &s.IsAisle, &s.IsEmergencyExit); err != nil {
			return nil, err
		}
		s.Class = model.SeatClass(class)
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
