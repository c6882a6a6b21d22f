// Package repository implements MySQL access for the seat inventory and
// for bookings.  The sentinel values below let higher layers tell apart
// failure scenarios without inspecting driver errors.  ErrConflict
// signals that a write collided with existing state, for example a
// booking for a seat that is already booked.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when an insert or update cannot be performed
// because of conflicting state.  Handlers should translate this into an
// HTTP 409 response.
var ErrConflict = errors.New("conflict")

// isDuplicateKey reports whether err is MySQL error 1062 (duplicate entry).
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
