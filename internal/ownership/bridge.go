// Package ownership hands a guest session's seat reservations over to the
// user that session just logged in as.
package ownership

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/flight-seat-reservation/internal/lockstore"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// ErrInvalidClaim is returned when the claim arguments cannot describe a
// session to user handover.
var ErrInvalidClaim = errors.New("invalid claim")

// ClaimResult lists what a claim did.  Skipped holds reservations that
// were listed for the old holder but expired or changed hands before they
// could be reassigned.
type ClaimResult struct {
	Claimed []model.Reservation `json:"claimed"`
	Skipped []model.SeatKey     `json:"skipped,omitempty"`
}

// Bridge reassigns reservations between holders.  Each reservation is
// moved with a single ReassignHolder call, so it never reads as free in
// between, and its expiry is left alone.
type Bridge struct {
	store lockstore.Store
	log   *zap.Logger
}

// NewBridge returns a Bridge over store.  A nil logger disables logging.
func NewBridge(store lockstore.Store, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{store: store, log: log}
}

// Claim moves every active reservation of from to to.  The new holder
// must carry a user id; when it has no session id the old session id is
// kept.  Calling Claim again with the same arguments finds nothing left
// under from and returns an empty result.
func (b *Bridge) Claim(ctx context.Context, from, to model.Holder) (ClaimResult, error) {
	if from.IsZero() {
		return ClaimResult{}, fmt.Errorf("%w: missing session", ErrInvalidClaim)
	}
	if to.UserID == "" {
		return ClaimResult{}, fmt.Errorf("%w: missing user", ErrInvalidClaim)
	}
	if to.SessionID == "" {
		to.SessionID = from.SessionID
	}
	if from.Owns(to) {
		return ClaimResult{}, nil
	}

	held, err := b.store.ListByHolder(ctx, from)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("list reservations of %s: %w", from, err)
	}
	res := ClaimResult{Claimed: make([]model.Reservation, 0, len(held))}
	for _, r := range held {
		moved, err := b.store.ReassignHolder(ctx, r.Key(), from, to)
		switch {
		case err == nil:
			res.Claimed = append(res.Claimed, moved)
		case errors.Is(err, lockstore.ErrNotHeld):
			res.Skipped = append(res.Skipped, r.Key())
		default:
			return res, fmt.Errorf("reassign %s: %w", r.Key(), err)
		}
	}
	b.log.Info("reservations claimed",
		zap.String("from", from.Key()),
		zap.String("to", to.Key()),
		zap.Int("claimed", len(res.Claimed)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
