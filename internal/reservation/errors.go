package reservation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest is returned for empty batches, missing holders or
	// malformed seat ids.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrFlightNotFound is returned when a flight has no seat inventory.
	ErrFlightNotFound = errors.New("flight not found")
	// ErrUnknownSeat is returned when a seat id is not part of the
	// flight's aircraft.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrSeatUnavailable means a seat is held by someone else or booked.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrNotHeld means the caller no longer holds a seat it tried to
	// renew.
	ErrNotHeld = errors.New("reservation not held")
	// ErrReservationExpired is reported at confirm time when one or more
	// seats are no longer held by the caller.
	ErrReservationExpired = errors.New("reservation expired or taken")
	// ErrBookingFailed means the booking store rejected a confirm.  The
	// caller's reservations are left in place.
	ErrBookingFailed = errors.New("booking creation failed")
	// ErrStorage wraps lock store failures so raw storage errors do not
	// reach callers.
	ErrStorage = errors.New("seat lock storage failure")
)

// SeatUnavailableError names the seats that blocked a reservation.
type SeatUnavailableError struct {
	SeatIDs []string
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat %s is no longer available, please choose another seat", strings.Join(e.SeatIDs, ", "))
}

func (e *SeatUnavailableError) Unwrap() error { return ErrSeatUnavailable }

// UnknownSeatError names seat ids that do not exist on the flight.
type UnknownSeatError struct {
	SeatIDs []string
}

func (e *UnknownSeatError) Error() string {
	return fmt.Sprintf("unknown seat %s", strings.Join(e.SeatIDs, ", "))
}

func (e *UnknownSeatError) Unwrap() error { return ErrUnknownSeat }

// NotHeldError names the seats a renewal could not extend.
type NotHeldError struct {
	SeatIDs []string
}

func (e *NotHeldError) Error() string {
	return fmt.Sprintf("your hold on seat %s has lapsed; select the seat again", strings.Join(e.SeatIDs, ", "))
}

func (e *NotHeldError) Unwrap() error { return ErrNotHeld }

// ReservationExpiredError names the seats that were not held at confirm.
type ReservationExpiredError struct {
	SeatIDs []string
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("the time limit to complete your booking ran out for seat %s; please select your seats again",
		strings.Join(e.SeatIDs, ", "))
}

func (e *ReservationExpiredError) Unwrap() error { return ErrReservationExpired }

// BookingFailedError wraps the booking store's error.  errors.Is matches
// both ErrBookingFailed and the underlying cause.
type BookingFailedError struct {
	Err error
}

func (e *BookingFailedError) Error() string {
	return fmt.Sprintf("%s: %v", ErrBookingFailed, e.Err)
}

func (e *BookingFailedError) Is(target error) bool { return target == ErrBookingFailed }

func (e *BookingFailedError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorage, err)
}
