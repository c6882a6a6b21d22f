package model

// SeatClass is the cabin class a seat belongs to.
type SeatClass string

const (
	ClassEconomy  SeatClass = "economy"
	ClassBusiness SeatClass = "business"
	ClassFirst    SeatClass = "first"
)

// Seat describes a physical seat of an aircraft configuration.  Seats
// are identified by their label (e.g. "12A") which is unique within an
// aircraft and therefore within every flight operated by it.  Seats are
// immutable once the aircraft is configured.
//
// Fields:
//  ID              – seat label, unique per aircraft (aircraft_seats.seat_id).
//  Row             – 1-based row number.
//  Column          – column letter within the row.
//  Class           – cabin class.
//  IsWindow        – seat is next to a window.
//  IsAisle         – seat is next to an aisle.
//  IsEmergencyExit – seat is in an emergency exit row.
type Seat struct {
	ID              string    `json:"id"`
	Row             uint32    `json:"row"`
	Column          string    `json:"column"`
	Class           SeatClass `json:"class"`
	IsWindow        bool      `json:"is_window"`
	IsAisle         bool      `json:"is_aisle"`
	IsEmergencyExit bool      `json:"is_emergency_exit"`
}
