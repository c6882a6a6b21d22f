package lease

import "time"

const (
	// DefaultTTL is the lifetime of a freshly acquired or renewed reservation.
	DefaultTTL = 15 * time.Minute
	// DefaultRenewBefore is how long before expiry clients are told to renew.
	DefaultRenewBefore = 3 * time.Minute
)

// Policy holds the reservation lifetime rules.
type Policy struct {
	TTL         time.Duration
	RenewBefore time.Duration
}

// DefaultPolicy returns the 15 minute policy with a 3 minute renewal hint.
func DefaultPolicy() Policy {
	return Policy{TTL: DefaultTTL, RenewBefore: DefaultRenewBefore}
}

// Normalize fills zero or negative values with defaults and keeps the
// renewal window strictly shorter than the TTL.
func (p Policy) Normalize() Policy {
	if p.TTL <= 0 {
		p.TTL = DefaultTTL
	}
	if p.RenewBefore <= 0 {
		p.RenewBefore = DefaultRenewBefore
	}
	if p.RenewBefore >= p.TTL {
		p.RenewBefore = p.TTL / 5
	}
	return p
}

// ExpiresAt returns the expiry of a reservation acquired or renewed at now.
func (p Policy) ExpiresAt(now time.Time) time.Time {
	return now.Add(p.TTL)
}

// Expired reports whether a reservation expiring at expiresAt has lapsed.
// The boundary instant counts as expired.
func Expired(expiresAt, now time.Time) bool {
	return !expiresAt.After(now)
}

// Remaining returns the time left before expiry, never negative.
func Remaining(expiresAt, now time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ShouldRenew reports whether a still active reservation has entered the
// renewal window.  This is a hint for clients; renewing earlier or later
// does not change any guarantee.
func (p Policy) ShouldRenew(expiresAt, now time.Time) bool {
	if Expired(expiresAt, now) {
		return false
	}
	return Remaining(expiresAt, now) <= p.RenewBefore
}
