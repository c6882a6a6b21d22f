// Package sweeper periodically evicts expired seat reservations so that
// seat maps and indexes do not carry stale records.  Correctness never
// depends on it: every read path already ignores expired records.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/lockstore"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
	"github.com/iliyamo/flight-seat-reservation/internal/queue"
)

// DefaultInterval is the pause between sweeps.
const DefaultInterval = 30 * time.Second

// ReleasePublisher is told which seats a sweep returned to availability.
type ReleasePublisher interface {
	PublishSeatsReleased(ctx context.Context, ev queue.SeatsReleasedEvent) error
}

// Sweeper runs SweepExpired against a lock store on a ticker.
type Sweeper struct {
	store    lockstore.Store
	clock    lease.Clock
	interval time.Duration
	events   ReleasePublisher
	log      *zap.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(c lease.Clock) Option { return func(s *Sweeper) { s.clock = c } }
func WithEvents(p ReleasePublisher) Option { return func(s *Sweeper) { s.events = p } }
func WithLogger(l *zap.Logger) Option { return func(s *Sweeper) { s.log = l } }

// New returns a Sweeper over store.
func New(store lockstore.Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		clock:    lease.SystemClock{},
		interval: DefaultInterval,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Interval returns the configured pause between sweeps.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep errors are logged and the loop carries on.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	s.sweepAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sweep failed", zap.Error(err))
	}
}

// SweepOnce evicts every reservation that has expired by now and returns
// the evicted keys.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]model.SeatKey, error) {
	now := s.clock.Now()
	keys, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		return keys, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	s.log.Info("expired reservations evicted", zap.Int("count", len(keys)))

	if s.events != nil {
		stamp := now.Format(time.RFC3339)
		for _, ev := range groupByFlight(keys) {
			ev.Reason = queue.ReasonExpired
			ev.ReleasedAt = stamp
			if err := s.events.PublishSeatsReleased(ctx, ev); err != nil {
				s.log.Warn("publish seats released failed", zap.Uint64("flight_id", ev.FlightID), zap.Error(err))
			}
		}
	}
	return keys, nil
}

// groupByFlight keeps the order in which flights first appear.
func groupByFlight(keys []model.SeatKey) []queue.SeatsReleasedEvent {
	var out []queue.SeatsReleasedEvent
	idx := make(map[uint64]int)
	for _, k := range keys {
		i, ok := idx[k.FlightID]
		if !ok {
			i = len(out)
			idx[k.FlightID] = i
			out = append(out, queue.SeatsReleasedEvent{FlightID: k.FlightID})
		}
		out[i].SeatIDs = append(out[i].SeatIDs, k.SeatID)
	}
	return out
}
