package model

import "time"

// SeatStatus is the availability of a seat on a flight as seen by a
// particular viewer.  It is derived on every read and never stored.
type SeatStatus string

const (
	StatusAvailable           SeatStatus = "available"
	StatusTemporarilyReserved SeatStatus = "temporarily_reserved"
	StatusMyReservation       SeatStatus = "my_reservation"
	StatusOccupied            SeatStatus = "occupied"
)

// SeatView is one entry of a seat map: the static seat annotated with
// its status relative to the viewer.  ExpiresAt is only set for the
// viewer's own reservations so clients can schedule renewal.
type SeatView struct {
	Seat
	Status    SeatStatus `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
