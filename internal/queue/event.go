// Package queue defines message payloads exchanged over the message broker
// and the RabbitMQ publisher and consumer that move them.
package queue

// Queue names.  Both are declared durable.
const (
	BookingConfirmedQueue = "booking.confirmed"
	SeatsReleasedQueue    = "seats.released"
)

// BookingConfirmedEvent is published when held seats have been turned into
// bookings.  It carries enough information for downstream consumers to log,
// notify or trigger analytics without querying the primary database.
type BookingConfirmedEvent struct {
	FlightID          uint64   `json:"flight_id"`
	SeatIDs           []string `json:"seats"`
	BookingReferences []string `json:"booking_references"`
	UserID            string   `json:"user_id,omitempty"`
	SessionID         string   `json:"session_id,omitempty"`
	ConfirmedAt       string   `json:"confirmed_at"`
}

// Release reasons carried by SeatsReleasedEvent.
const (
	ReasonReleased = "released"
	ReasonSession  = "session_ended"
	ReasonExpired  = "expired"
)

// SeatsReleasedEvent is published whenever seats of a flight return to
// availability, so seat map viewers can refresh without polling.
type SeatsReleasedEvent struct {
	FlightID   uint64   `json:"flight_id"`
	SeatIDs    []string `json:"seats"`
	Reason     string   `json:"reason"`
	ReleasedAt string   `json:"released_at"`
}
