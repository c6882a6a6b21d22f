package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// BookingRepo stores permanent seat bookings.  Each row of the bookings
// table binds one seat of one flight to one passenger; the unique key on
// (flight_id, seat_id) makes a double booking impossible.  All timestamp
// fields are stored in UTC.
type BookingRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo {
	return &BookingRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// BookedSeats returns the set of seat ids booked on a flight.
func (r *BookingRepo) BookedSeats(ctx context.Context, flightID uint64) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT seat_id FROM bookings WHERE flight_id = ?`, flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// CreateBookings inserts one booking per seat in a single transaction.
// Either every seat is booked or none is; a seat that is already booked
// yields ErrConflict.  References are random UUIDs.
func (r *BookingRepo) CreateBookings(ctx context.Context, flightID uint64, holder model.Holder, seats []model.BookingSeat) ([]model.Booking, error) {
	if len(seats) == 0 {
		return nil, nil
	}
	now := r.now()
	bookings := make([]model.Booking, len(seats))
	query := `INSERT INTO bookings (reference, flight_id, seat_id, passenger_first, passenger_last, passenger_email, passenger_document, user_id, session_id, created_at) VALUES `
	args := make([]interface{}, 0, len(seats)*10)
	for i, s := range seats {
		b := model.Booking{
			Reference: uuid.NewString(),
			FlightID:  flightID,
			SeatID:    s.SeatID,
			Passenger: s.Passenger,
			UserID:    holder.UserID,
			SessionID: holder.SessionID,
			CreatedAt: now,
		}
		bookings[i] = b
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, b.Reference, b.FlightID, b.SeatID,
			b.Passenger.FirstName, b.Passenger.LastName,
			nullable(b.Passenger.Email), nullable(b.Passenger.Document),
			nullable(b.UserID), b.SessionID, now)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: seat already booked on flight %d (%s)", ErrConflict, flightID, seatList(seats))
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return bookings, nil
}

// ListByHolder returns the bookings made by a user, or by a guest session
// when the holder has no user id, newest first.
func (r *BookingRepo) ListByHolder(ctx context.Context, holder model.Holder) ([]model.Booking, error) {
	q := `SELECT reference, flight_id, seat_id, passenger_first, passenger_last, passenger_email, passenger_document, user_id, session_id, created_at
	      FROM bookings WHERE `
	var arg string
	if holder.UserID != "" {
		q += "user_id = ?"
		arg = holder.UserID
	} else {
		q += "user_id IS NULL AND session_id = ?"
		arg = holder.SessionID
	}
	q += " ORDER BY created_at DESC, seat_id"
	rows, err := r.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		var (
			b                  model.Booking
			email, doc, userID sql.NullString
		)
		if err := rows.Scan(&b.Reference, &b.FlightID, &b.SeatID,
			&b.Passenger.FirstName, &b.Passenger.LastName, &email, &doc,
			&userID, &b.SessionID, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Passenger.Email = email.String
		b.Passenger.Document = doc.String
		b.UserID = userID.String
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func seatList(seats []model.BookingSeat) string {
	ids := make([]string, len(seats))
	for i, s := range seats {
		ids[i] = s.SeatID
	}
	return strings.Join(ids, ",")
}
