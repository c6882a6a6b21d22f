package model

import "time"

// Passenger carries the traveller details attached to a booked seat.
type Passenger struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
	Document  string `json:"document,omitempty"`
}

// BookingSeat pairs a seat with the passenger that will occupy it.
type BookingSeat struct {
	SeatID    string    `json:"seat_id"`
	Passenger Passenger `json:"passenger"`
}

// Booking is the permanent record produced by a successful confirm.  It
// associates one seat on a flight with one passenger; once it exists the
// seat is occupied regardless of any reservation.
//
// Fields:
//  Reference – opaque booking reference handed to the customer.
//  FlightID  – flight that was booked (bookings.flight_id).
//  SeatID    – seat that was booked (bookings.seat_id).
//  Passenger – traveller occupying the seat.
//  UserID    – user that confirmed, empty for guest checkouts.
//  SessionID – session that confirmed.
//  CreatedAt – creation timestamp.
type Booking struct {
	Reference string    `json:"reference"`
	FlightID  uint64    `json:"flight_id"`
	SeatID    string    `json:"seat_id"`
	Passenger Passenger `json:"passenger"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
