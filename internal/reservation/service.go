// Package reservation implements the seat reservation workflow on top of
// a lock store: viewing a flight's seat map, holding seats for a limited
// time, renewing and releasing holds, handing them to a logged in user
// and turning them into bookings.
//
// All state lives in the lock store and the booking store; the Service
// itself is stateless and safe for concurrent use.
package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/lockstore"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/ownership"
	"github.com/iliyamo/flight-seat-reservation/internal/queue"
)

// SeatInventory provides the static seat layout of a flight's aircraft,
// ordered by row then column.  An empty result means the flight is
// unknown.
type SeatInventory interface {
	SeatsForFlight(ctx context.Context, flightID uint64) ([]model.Seat, error)
}

// BookingStore persists permanent bookings.  CreateBookings must either
// create every booking or none and fail cleanly when a seat is already
// booked.
type BookingStore interface {
	BookedSeats(ctx context.Context, flightID uint64) (map[string]bool, error)
	CreateBookings(ctx context.Context, flightID uint64, holder model.Holder, seats []model.BookingSeat) ([]model.Booking, error)
}

// EventPublisher receives domain events after state changes.  Publishing
// is best effort: failures are logged and never fail the operation.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	PublishSeatsReleased(ctx context.Context, ev queue.SeatsReleasedEvent) error
}

// Service coordinates the lock store, the seat inventory and the booking
// store.
type Service struct {
	store     lockstore.Store
	inventory SeatInventory
	bookings  BookingStore
	bridge    *ownership.Bridge
	events    EventPublisher
	clock     lease.Clock
	policy    lease.Policy
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for expiry decisions.
func WithClock(c lease.Clock) Option { return func(s *Service) { s.clock = c } }

// WithPolicy sets the reservation lifetime policy.
func WithPolicy(p lease.Policy) Option { return func(s *Service) { s.policy = p.Normalize() } }

// WithEvents sets the event publisher.
func WithEvents(p EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

// NewService builds a Service.  Defaults: system clock, 15 minute policy,
// no events, no logging.
func NewService(store lockstore.Store, inventory SeatInventory, bookings BookingStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		inventory: inventory,
		bookings:  bookings,
		clock:     lease.SystemClock{},
		policy:    lease.DefaultPolicy(),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.bridge = ownership.NewBridge(store, s.log)
	return s
}

// Policy returns the lifetime policy in force.
func (s *Service) Policy() lease.Policy { return s.policy }

// Now returns the service clock's time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// Hold describes the outcome of a reserve or renew call.
type Hold struct {
	FlightID uint64   `json:"flight_id"`
	SeatIDs  []string `json:"seat_ids"`
	// ExpiresAt is the earliest expiry among the held seats.
	ExpiresAt time.Time `json:"expires_at"`
	// RenewAt is when clients should renew to keep the hold.
	RenewAt time.Time `json:"renew_at"`
}

func (s *Service) hold(flightID uint64, seatIDs []string, expires []time.Time) Hold {
	h := Hold{FlightID: flightID, SeatIDs: seatIDs}
	for i, e := range expires {
		if i == 0 || e.Before(h.ExpiresAt) {
			h.ExpiresAt = e
		}
	}
	h.RenewAt = h.ExpiresAt.Add(-s.policy.RenewBefore)
	return h
}

// ReserveSeats holds every seat in seatIDs for holder or none of them.
// Seats the holder already holds count as held and keep their expiry.
// On failure every seat acquired by this call has been released again
// and the error is a *SeatUnavailableError naming the blocking seats.
func (s *Service) ReserveSeats(ctx context.Context, flightID uint64, seatIDs []string, holder model.Holder) (Hold, error) {
	ids, err := s.validate(ctx, flightID, seatIDs, holder)
	if err != nil {
		return Hold{}, err
	}

	blocked, err := s.bookedAmong(ctx, flightID, ids)
	if err != nil {
		return Hold{}, err
	}
	if len(blocked) > 0 {
		return Hold{}, &SeatUnavailableError{SeatIDs: blocked}
	}

	// One expiry for the whole batch.
	expiresAt := s.policy.ExpiresAt(s.clock.Now())
	var (
		acquired []model.SeatKey
		expires  = make([]time.Time, 0, len(ids))
	)
	for i, id := range ids {
		key := model.SeatKey{FlightID: flightID, SeatID: id}
		r, err := s.store.TryAcquire(ctx, key, holder, expiresAt)
		if err == nil {
			acquired = append(acquired, key)
			expires = append(expires, r.ExpiresAt)
			continue
		}
		var ce *lockstore.ConflictError
		if asConflict(err, &ce) && holder.Owns(ce.Current.Holder) {
			expires = append(expires, ce.Current.ExpiresAt)
			continue
		}
		s.rollback(ctx, acquired, holder)
		if ce == nil {
			return Hold{}, storageErr("acquire "+key.String(), err)
		}
		blocked = append([]string{id}, s.otherBlockers(ctx, flightID, ids[i+1:], holder)...)
		s.log.Debug("reserve rejected",
			zap.Uint64("flight_id", flightID),
			zap.Strings("blocking", blocked),
			zap.String("holder", holder.Key()),
		)
		return Hold{}, &SeatUnavailableError{SeatIDs: blocked}
	}

	// A confirm may have finished between the first booking check and the
	// acquire: it writes the booking before dropping its lock, so a second
	// look after acquiring catches it.
	blocked, err = s.bookedAmong(ctx, flightID, ids)
	if err != nil {
		s.rollback(ctx, acquired, holder)
		return Hold{}, err
	}
	if len(blocked) > 0 {
		s.rollback(ctx, acquired, holder)
		return Hold{}, &SeatUnavailableError{SeatIDs: blocked}
	}

	s.log.Info("seats reserved",
		zap.Uint64("flight_id", flightID),
		zap.Strings("seats", ids),
		zap.String("holder", holder.Key()),
		zap.Time("expires_at", expiresAt),
	)
	return s.hold(flightID, ids, expires), nil
}

// bookedAmong returns the ids that already have a booking.
func (s *Service) bookedAmong(ctx context.Context, flightID uint64, ids []string) ([]string, error) {
	booked, err := s.bookings.BookedSeats(ctx, flightID)
	if err != nil {
		return nil, storageErr("load bookings", err)
	}
	var out []string
	for _, id := range ids {
		if booked[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// rollback releases keys acquired by a failed call.  It runs even when
// ctx has been cancelled.
func (s *Service) rollback(ctx context.Context, keys []model.SeatKey, holder model.Holder) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := s.store.Release(ctx, k, holder); err != nil {
			s.log.Error("rollback release failed", zap.String("seat", k.String()), zap.Error(err))
		}
	}
}

// otherBlockers reports which of the remaining seats are held by someone
// else, so a rejection can name all of them.  It is a best effort read.
func (s *Service) otherBlockers(ctx context.Context, flightID uint64, rest []string, holder model.Holder) []string {
	if len(rest) == 0 {
		return nil
	}
	locks, err := s.store.ListForFlight(ctx, flightID)
	if err != nil {
		return nil
	}
	var out []string
	for _, id := range rest {
		if r, ok := locks[id]; ok && !holder.Owns(r.Holder) {
			out = append(out, id)
		}
	}
	return out
}

// ReleaseSeats drops the holder's reservations on seatIDs and returns the
// seats that were actually released.  Seats not held by holder are
// ignored, so the call is idempotent.
func (s *Service) ReleaseSeats(ctx context.Context, flightID uint64, seatIDs []string, holder model.Holder) ([]string, error) {
	if holder.IsZero() {
		return nil, ErrInvalidRequest
	}
	ids := dedupe(seatIDs)
	locks, err := s.store.ListForFlight(ctx, flightID)
	if err != nil {
		return nil, storageErr("list locks", err)
	}
	released := make([]string, 0, len(ids))
	for _, id := range ids {
		r, ok := locks[id]
		if !ok || !holder.Owns(r.Holder) {
			continue
		}
		if err := s.store.Release(ctx, r.Key(), holder); err != nil {
			s.log.Warn("release failed", zap.String("seat", r.Key().String()), zap.Error(err))
			continue
		}
		released = append(released, id)
	}
	s.publishReleased(ctx, flightID, released, queue.ReasonReleased)
	return released, nil
}

// ReleaseSession drops every reservation held by holder on any flight and
// returns how many were released.
func (s *Service) ReleaseSession(ctx context.Context, holder model.Holder) (int, error) {
	if holder.IsZero() {
		return 0, ErrInvalidRequest
	}
	held, err := s.store.ListByHolder(ctx, holder)
	if err != nil {
		return 0, storageErr("list holder locks", err)
	}
	byFlight := make(map[uint64][]string)
	var order []uint64
	n := 0
	for _, r := range held {
		if err := s.store.Release(ctx, r.Key(), holder); err != nil {
			s.log.Warn("release failed", zap.String("seat", r.Key().String()), zap.Error(err))
			continue
		}
		if _, ok := byFlight[r.FlightID]; !ok {
			order = append(order, r.FlightID)
		}
		byFlight[r.FlightID] = append(byFlight[r.FlightID], r.SeatID)
		n++
	}
	for _, f := range order {
		s.publishReleased(ctx, f, byFlight[f], queue.ReasonSession)
	}
	if n > 0 {
		s.log.Info("session released", zap.String("holder", holder.Key()), zap.Int("seats", n))
	}
	return n, nil
}

// RenewReservation extends every seat in seatIDs to a fresh lifetime.  If
// any seat is no longer held by holder nothing is renewed and a
// *NotHeldError names the lapsed seats.
func (s *Service) RenewReservation(ctx context.Context, flightID uint64, seatIDs []string, holder model.Holder) (Hold, error) {
	if holder.IsZero() {
		return Hold{}, ErrInvalidRequest
	}
	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return Hold{}, ErrInvalidRequest
	}
	locks, err := s.store.ListForFlight(ctx, flightID)
	if err != nil {
		return Hold{}, storageErr("list locks", err)
	}
	if missing := notHeld(locks, ids, holder); len(missing) > 0 {
		return Hold{}, &NotHeldError{SeatIDs: missing}
	}

	expiresAt := s.policy.ExpiresAt(s.clock.Now())
	expires := make([]time.Time, 0, len(ids))
	var lapsed []string
	for _, id := range ids {
		r, err := s.store.Renew(ctx, model.SeatKey{FlightID: flightID, SeatID: id}, holder, expiresAt)
		switch {
		case err == nil:
			expires = append(expires, r.ExpiresAt)
		case isNotHeld(err):
			lapsed = append(lapsed, id)
		default:
			return Hold{}, storageErr("renew", err)
		}
	}
	// A seat lost between the check and the renew.  Seats already
	// extended stay extended; the caller still learns the batch failed.
	if len(lapsed) > 0 {
		return Hold{}, &NotHeldError{SeatIDs: lapsed}
	}
	return s.hold(flightID, ids, expires), nil
}

// ConfirmBooking turns the holder's reservations into bookings.  Every
// seat must still be held by holder, otherwise a
// *ReservationExpiredError names the lost seats.  If the booking store
// fails the reservations are left untouched and a *BookingFailedError is
// returned; on success the reservations are removed.
func (s *Service) ConfirmBooking(ctx context.Context, flightID uint64, seats []model.BookingSeat, holder model.Holder) ([]model.Booking, error) {
	if holder.IsZero() || len(seats) == 0 {
		return nil, ErrInvalidRequest
	}
	ids := make([]string, 0, len(seats))
	seen := make(map[string]bool, len(seats))
	norm := make([]model.BookingSeat, len(seats))
	for i, bs := range seats {
		bs.SeatID = normalizeSeatID(bs.SeatID)
		if bs.SeatID == "" || seen[bs.SeatID] {
			return nil, ErrInvalidRequest
		}
		seen[bs.SeatID] = true
		ids = append(ids, bs.SeatID)
		norm[i] = bs
	}
	seats = norm

	locks, err := s.store.ListForFlight(ctx, flightID)
	if err != nil {
		return nil, storageErr("list locks", err)
	}
	if missing := notHeld(locks, ids, holder); len(missing) > 0 {
		return nil, &ReservationExpiredError{SeatIDs: missing}
	}

	bookings, err := s.bookings.CreateBookings(ctx, flightID, holder, seats)
	if err != nil {
		s.log.Warn("booking creation failed",
			zap.Uint64("flight_id", flightID),
			zap.Strings("seats", ids),
			zap.Error(err),
		)
		return nil, &BookingFailedError{Err: err}
	}

	// The bookings exist now; a lock that fails to release simply
	// expires, and the seat reads occupied either way.
	rctx := context.WithoutCancel(ctx)
	for _, id := range ids {
		key := model.SeatKey{FlightID: flightID, SeatID: id}
		if err := s.store.Release(rctx, key, holder); err != nil {
			s.log.Warn("release after booking failed", zap.String("seat", key.String()), zap.Error(err))
		}
	}

	refs := make([]string, len(bookings))
	for i, b := range bookings {
		refs[i] = b.Reference
	}
	s.log.Info("booking confirmed",
		zap.Uint64("flight_id", flightID),
		zap.Strings("seats", ids),
		zap.Strings("references", refs),
	)
	if s.events != nil {
		ev := queue.BookingConfirmedEvent{
			FlightID:          flightID,
			SeatIDs:           ids,
			BookingReferences: refs,
			UserID:            holder.UserID,
			SessionID:         holder.SessionID,
			ConfirmedAt:       s.clock.Now().Format(time.RFC3339),
		}
		if err := s.events.PublishBookingConfirmed(ctx, ev); err != nil {
			s.log.Warn("publish booking confirmed failed", zap.Error(err))
		}
	}
	return bookings, nil
}

// Claim hands every reservation of a guest session to the logged in user.
func (s *Service) Claim(ctx context.Context, from, to model.Holder) (ownership.ClaimResult, error) {
	return s.bridge.Claim(ctx, from, to)
}

// FlightLocks returns the active reservations of a flight ordered by seat.
func (s *Service) FlightLocks(ctx context.Context, flightID uint64) ([]model.Reservation, error) {
	locks, err := s.store.ListForFlight(ctx, flightID)
	if err != nil {
		return nil, storageErr("list locks", err)
	}
	return sortedReservations(locks), nil
}

func (s *Service) publishReleased(ctx context.Context, flightID uint64, seatIDs []string, reason string) {
	if s.events == nil || len(seatIDs) == 0 {
		return
	}
	ev := queue.SeatsReleasedEvent{
		FlightID:   flightID,
		SeatIDs:    seatIDs,
		Reason:     reason,
		ReleasedAt: s.clock.Now().Format(time.RFC3339),
	}
	if err := s.events.PublishSeatsReleased(ctx, ev); err != nil {
		s.log.Warn("publish seats released failed", zap.Error(err))
	}
}

// validate normalises seatIDs and checks them against the flight's
// inventory.
func (s *Service) validate(ctx context.Context, flightID uint64, seatIDs []string, holder model.Holder) ([]string, error) {
	if holder.IsZero() {
		return nil, ErrInvalidRequest
	}
	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return nil, ErrInvalidRequest
	}
	inv, err := s.loadSeats(ctx, flightID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(inv))
	for _, seat := range inv {
		known[seat.ID] = true
	}
	var unknown []string
	for _, id := range ids {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return nil, &UnknownSeatError{SeatIDs: unknown}
	}
	return ids, nil
}
