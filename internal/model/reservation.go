package model

import (
	"fmt"
	"time"
)

// Holder identifies who owns a seat reservation.  Before authentication
// only SessionID is known; once the session is claimed by a logged in
// user UserID is filled in and the user becomes the owner.
type Holder struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Key returns the ownership key used to compare holders.  A user id
// always takes precedence over the session id.
func (h Holder) Key() string {
	if h.UserID != "" {
		return "user:" + h.UserID
	}
	return "session:" + h.SessionID
}

// IsZero reports whether the holder carries no identity at all.
func (h Holder) IsZero() bool { return h.SessionID == "" && h.UserID == "" }

// Owns reports whether h owns a reservation held by other.
func (h Holder) Owns(other Holder) bool {
	if h.IsZero() || other.IsZero() {
		return false
	}
	return h.Key() == other.Key()
}

func (h Holder) String() string { return h.Key() }

// SeatKey is the composite key of a reservation.  At most one active
// reservation exists per key.
type SeatKey struct {
	FlightID uint64 `json:"flight_id"`
	SeatID   string `json:"seat_id"`
}

func (k SeatKey) String() string { return fmt.Sprintf("%d:%s", k.FlightID, k.SeatID) }

// Reservation is a temporary claim on a seat of a flight.  It mirrors a
// row in the `seat_locks` table.
//
// Fields:
//  FlightID  – flight the seat belongs to (seat_locks.flight_id).
//  SeatID    – seat label (seat_locks.seat_id).
//  Holder    – session and optional user owning the claim
//              (seat_locks.holder_session_id / holder_user_id).
//  CreatedAt – when the claim was acquired.
//  ExpiresAt – when the claim lapses; a claim with ExpiresAt <= now is
//              treated as absent everywhere.
//  Renewed   – whether ExpiresAt has been extended at least once.
type Reservation struct {
	FlightID  uint64    `json:"flight_id"`
	SeatID    string    `json:"seat_id"`
	Holder    Holder    `json:"holder"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Renewed   bool      `json:"renewed"`
}

// Key returns the composite key of the reservation.
func (r Reservation) Key() SeatKey { return SeatKey{FlightID: r.FlightID, SeatID: r.SeatID} }

// ActiveAt reports whether the reservation is still in force at now.
func (r Reservation) ActiveAt(now time.Time) bool { return r.ExpiresAt.After(now) }
