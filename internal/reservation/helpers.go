package reservation

import (
	"errors"
	"sort"
	"strings"

	"github.com/iliyamo/flight-seat-reservation/internal/lockstore"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// dedupe trims ids, drops empties and repeats and keeps first-seen order.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = normalizeSeatID(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func normalizeSeatID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }

// notHeld returns the ids in ids that holder does not hold in locks.
func notHeld(locks map[string]model.Reservation, ids []string, holder model.Holder) []string {
	var out []string
	for _, id := range ids {
		r, ok := locks[id]
		if !ok || !holder.Owns(r.Holder) {
			out = append(out, id)
		}
	}
	return out
}

func asConflict(err error, target **lockstore.ConflictError) bool {
	return errors.As(err, target)
}

func isNotHeld(err error) bool { return errors.Is(err, lockstore.ErrNotHeld) }

func sortedReservations(locks map[string]model.Reservation) []model.Reservation {
	out := make([]model.Reservation, 0, len(locks))
	for _, r := range locks {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out
}
