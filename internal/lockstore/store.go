// Package lockstore holds the authoritative map of active seat
// reservations.  Each backend guarantees that at most one unexpired
// reservation exists per (flight, seat) key and that every mutation on a
// key is a single atomic check-and-set.  A record whose expiry is at or
// before the store clock's "now" is treated as absent on every path.
package lockstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// ErrConflict is returned by TryAcquire when another active reservation
// exists for the key.  The concrete error is a *ConflictError.
var ErrConflict = errors.New("seat already reserved")

// ErrNotHeld is returned when the caller does not hold an active
// reservation on the key, either because it never did, because it
// expired or because someone else holds it now.
var ErrNotHeld = errors.New("reservation not held")

// ConflictError carries the reservation that blocked an acquire.
type ConflictError struct {
	Current model.Reservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seat %s already reserved until %s", e.Current.Key(), e.Current.ExpiresAt.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Store is implemented by every lock backend.
type Store interface {
	// TryAcquire creates a reservation for holder expiring at expiresAt
	// if no active reservation exists for key.  Otherwise it returns a
	// *ConflictError describing the current record, even when the
	// current record belongs to holder.
	TryAcquire(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error)
	// Release removes the reservation if holder owns it.  Missing or
	// expired records are not an error; an active record owned by
	// someone else yields ErrNotHeld and is left untouched.
	Release(ctx context.Context, key model.SeatKey, holder model.Holder) error
	// Renew moves the expiry of an active reservation owned by holder to
	// expiresAt and marks it renewed.
	Renew(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error)
	// ReassignHolder rewrites the holder of an active reservation owned
	// by from.  The expiry is left unchanged.
	ReassignHolder(ctx context.Context, key model.SeatKey, from, to model.Holder) (model.Reservation, error)
	// SweepExpired deletes every record expiring at or before now and
	// returns the evicted keys.
	SweepExpired(ctx context.Context, now time.Time) ([]model.SeatKey, error)
	// ListForFlight returns the active reservations of a flight keyed by
	// seat id.
	ListForFlight(ctx context.Context, flightID uint64) (map[string]model.Reservation, error)
	// ListByHolder returns every active reservation owned by holder
	// across all flights.
	ListByHolder(ctx context.Context, holder model.Holder) ([]model.Reservation, error)
}

// Kind names a backend for configuration.
type Kind string

const (
	KindMemory Kind = "memory"
	KindMySQL  Kind = "mysql"
	KindRedis  Kind = "redis"
)

// ParseKind validates a LOCK_STORE value.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMemory, KindMySQL, KindRedis:
		return k, nil
	case "":
		return KindMemory, nil
	default:
		return "", fmt.Errorf("unknown lock store %q", s)
	}
}
