package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/queue"
)

type fakeInventory map[uint64][]model.Seat

func (f fakeInventory) SeatsForFlight(_ context.Context, flightID uint64) ([]model.Seat, error) {
	return f[flightID], nil
}

func layout(rows int, cols ...string) []model.Seat {
	var out []model.Seat
	for r := 1; r <= rows; r++ {
		for i, c := range cols {
			out = append(out, model.Seat{
				ID:       fmt.Sprintf("%d%s", r, c),
				Row:      uint32(r),
				Column:   c,
				Class:    model.ClassEconomy,
				IsWindow: i == 0 || i == len(cols)-1,
			})
		}
	}
	return out
}

var errBookingDown = errors.New("booking backend unavailable")

type fakeBookings struct {
	mu     sync.Mutex
	booked map[uint64]map[string]model.Booking
	fail   error
	seq    int
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{booked: make(map[uint64]map[string]model.Booking)}
}

func (f *fakeBookings) BookedSeats(_ context.Context, flightID uint64) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool)
	for id := range f.booked[flightID] {
		out[id] = true
	}
	return out, nil
}

func (f *fakeBookings) CreateBookings(_ context.Context, flightID uint64, holder model.Holder, seats []model.BookingSeat) ([]model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if f.booked[flightID] == nil {
		f.booked[flightID] = make(map[string]model.Booking)
	}
	for _, s := range seats {
		if _, ok := f.booked[flightID][s.SeatID]; ok {
			return nil, fmt.Errorf("seat %s already booked", s.SeatID)
		}
	}
	out := make([]model.Booking, 0, len(seats))
	for _, s := range seats {
		f.seq++
		b := model.Booking{
			Reference: fmt.Sprintf("BK%04d", f.seq),
			FlightID:  flightID,
			SeatID:    s.SeatID,
			Passenger: s.Passenger,
			UserID:    holder.UserID,
			SessionID: holder.SessionID,
		}
		f.booked[flightID][s.SeatID] = b
		out = append(out, b)
	}
	return out, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	confirmed []queue.BookingConfirmedEvent
	released  []queue.SeatsReleasedEvent
	err       error
}

func (f *fakeEvents) PublishBookingConfirmed(_ context.Context, ev queue.BookingConfirmedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, ev)
	return f.err
}

func (f *fakeEvents) PublishSeatsReleased(_ context.Context, ev queue.SeatsReleasedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, ev)
	return f.err
}
