package lockstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// MemoryStore keeps reservations in a process local map guarded by a
// single RWMutex.  It is only suitable for single instance deployments
// and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[model.SeatKey]model.Reservation
	clock lease.Clock
}

// NewMemoryStore returns an empty MemoryStore.  A nil clock means the
// system clock.
func NewMemoryStore(clock lease.Clock) *MemoryStore {
	if clock == nil {
		clock = lease.SystemClock{}
	}
	return &MemoryStore{locks: make(map[model.SeatKey]model.Reservation), clock: clock}
}

// active returns the record for key if it has not expired.  Expired
// records are dropped on the way.  Caller must hold the write lock.
func (s *MemoryStore) active(key model.SeatKey, now time.Time) (model.Reservation, bool) {
	r, ok := s.locks[key]
	if !ok {
		return model.Reservation{}, false
	}
	if !r.ActiveAt(now) {
		delete(s.locks, key)
		return model.Reservation{}, false
	}
	return r, true
}

func (s *MemoryStore) TryAcquire(_ context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if cur, ok := s.active(key, now); ok {
		return model.Reservation{}, &ConflictError{Current: cur}
	}
	r := model.Reservation{
		FlightID:  key.FlightID,
		SeatID:    key.SeatID,
		Holder:    holder,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	s.locks[key] = r
	return r, nil
}

func (s *MemoryStore) Release(_ context.Context, key model.SeatKey, holder model.Holder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active(key, s.clock.Now())
	if !ok {
		return nil
	}
	if !holder.Owns(cur.Holder) {
		return ErrNotHeld
	}
	delete(s.locks, key)
	return nil
}

func (s *MemoryStore) Renew(_ context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active(key, s.clock.Now())
	if !ok || !holder.Owns(cur.Holder) {
		return model.Reservation{}, ErrNotHeld
	}
	cur.ExpiresAt = expiresAt
	cur.Renewed = true
	s.locks[key] = cur
	return cur, nil
}

func (s *MemoryStore) ReassignHolder(_ context.Context, key model.SeatKey, from, to model.Holder) (model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.active(key, s.clock.Now())
	if !ok || !from.Owns(cur.Holder) {
		return model.Reservation{}, ErrNotHeld
	}
	cur.Holder = to
	s.locks[key] = cur
	return cur, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) ([]model.SeatKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []model.SeatKey
	for k, r := range s.locks {
		if lease.Expired(r.ExpiresAt, now) {
			delete(s.locks, k)
			evicted = append(evicted, k)
		}
	}
	sortKeys(evicted)
	return evicted, nil
}

func (s *MemoryStore) ListForFlight(_ context.Context, flightID uint64) (map[string]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	out := make(map[string]model.Reservation)
	for k, r := range s.locks {
		if k.FlightID == flightID && r.ActiveAt(now) {
			out[k.SeatID] = r
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByHolder(_ context.Context, holder model.Holder) ([]model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.clock.Now()
	var out []model.Reservation
	for _, r := range s.locks {
		if r.ActiveAt(now) && holder.Owns(r.Holder) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i].Key(), out[j].Key()) })
	return out, nil
}

func keyLess(a, b model.SeatKey) bool {
	if a.FlightID != b.FlightID {
		return a.FlightID < b.FlightID
	}
	return a.SeatID < b.SeatID
}

func sortKeys(keys []model.SeatKey) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}
