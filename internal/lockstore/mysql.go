package lockstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/flight-seat-reservation/internal/lease"
	"github.com/iliyamo/flight-seat-reservation/internal/model"
)

// MySQLStore keeps reservations in the seat_locks table.  The unique key
// on (flight_id, seat_id) enforces mutual exclusion; a duplicate key
// error on insert is the conflict signal.  Timestamps are bound as
// parameters taken from the store clock rather than UTC_TIMESTAMP() so
// every backend agrees on "now".
//
// Updates rely on the DSN carrying clientFoundRows=true so that
// RowsAffected reports matched rows.
type MySQLStore struct {
	db    *sql.DB
	clock lease.Clock
}

// NewMySQLStore returns a MySQLStore bound to db.  A nil clock means the
// system clock.
func NewMySQLStore(db *sql.DB, clock lease.Clock) *MySQLStore {
	if clock == nil {
		clock = lease.SystemClock{}
	}
	return &MySQLStore{db: db, clock: clock}
}

const lockColumns = `flight_id, seat_id, holder_session_id, holder_user_id, created_at, expires_at, renewed`

// holderClause matches rows owned by h.  A user id takes precedence; a
// bare session only matches rows that have not been claimed by a user.
func holderClause(h model.Holder) (string, []interface{}) {
	if h.UserID != "" {
		return "holder_user_id = ?", []interface{}{h.UserID}
	}
	return "holder_user_id IS NULL AND holder_session_id = ?", []interface{}{h.SessionID}
}

func nullableUser(h model.Holder) sql.NullString {
	return sql.NullString{String: h.UserID, Valid: h.UserID != ""}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLock(s rowScanner) (model.Reservation, error) {
	var (
		r   model.Reservation
		uid sql.NullString
	)
	if err := s.Scan(&r.FlightID, &r.SeatID, &r.Holder.SessionID, &uid, &r.CreatedAt, &r.ExpiresAt, &r.Renewed); err != nil {
		return model.Reservation{}, err
	}
	r.Holder.UserID = uid.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExpiresAt = r.ExpiresAt.UTC()
	return r, nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// acquireAttempts bounds how often TryAcquire reruns its transaction
// after InnoDB picked it as a deadlock victim or timed out a lock wait.
const acquireAttempts = 3

// isLockContention reports MySQL errors 1213 (deadlock) and 1205 (lock
// wait timeout).  Two first reservations of the same free seat both
// take a gap lock in the DELETE and then block each other's INSERT, so
// one of them ends here instead of on a duplicate key.
func isLockContention(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && (me.Number == 1213 || me.Number == 1205)
}

func (s *MySQLStore) TryAcquire(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error) {
	now := s.clock.Now()
	var err error
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		var r model.Reservation
		r, err = s.acquireOnce(ctx, key, holder, expiresAt, now)
		if !isLockContention(err) {
			return r, err
		}
	}
	// Still contended: whoever won holds the seat now.
	cur, gerr := scanLock(s.db.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM seat_locks WHERE flight_id = ? AND seat_id = ? AND expires_at > ?`,
		key.FlightID, key.SeatID, now,
	))
	if gerr == nil {
		return model.Reservation{}, &ConflictError{Current: cur}
	}
	return model.Reservation{}, err
}

func (s *MySQLStore) acquireOnce(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt, now time.Time) (model.Reservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// An expired row still occupies the unique key; clear it first.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM seat_locks WHERE flight_id = ? AND seat_id = ? AND expires_at <= ?`,
		key.FlightID, key.SeatID, now,
	); err != nil {
		return model.Reservation{}, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO seat_locks (`+lockColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		key.FlightID, key.SeatID, holder.SessionID, nullableUser(holder), now, expiresAt,
	)
	if isDuplicateKey(err) {
		cur, gerr := scanLock(tx.QueryRowContext(ctx,
			`SELECT `+lockColumns+` FROM seat_locks WHERE flight_id = ? AND seat_id = ?`,
			key.FlightID, key.SeatID,
		))
		if gerr != nil && !errors.Is(gerr, sql.ErrNoRows) {
			return model.Reservation{}, gerr
		}
		if errors.Is(gerr, sql.ErrNoRows) {
			cur = model.Reservation{FlightID: key.FlightID, SeatID: key.SeatID}
		}
		return model.Reservation{}, &ConflictError{Current: cur}
	}
	if err != nil {
		return model.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Reservation{}, err
	}
	committed = true
	return model.Reservation{
		FlightID:  key.FlightID,
		SeatID:    key.SeatID,
		Holder:    holder,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *MySQLStore) Release(ctx context.Context, key model.SeatKey, holder model.Holder) error {
	if holder.IsZero() {
		return ErrNotHeld
	}
	now := s.clock.Now()
	clause, hargs := holderClause(holder)
	args := append([]interface{}{key.FlightID, key.SeatID, now}, hargs...)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seat_locks WHERE flight_id = ? AND seat_id = ? AND expires_at > ? AND `+clause,
		args...,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Nothing deleted: either there is no active lock (fine) or it
	// belongs to someone else.
	var cnt int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seat_locks WHERE flight_id = ? AND seat_id = ? AND expires_at > ?`,
		key.FlightID, key.SeatID, now,
	).Scan(&cnt); err != nil {
		return err
	}
	if cnt > 0 {
		return ErrNotHeld
	}
	return nil
}

// updateHeld runs a guarded UPDATE on an active row owned by owner and
// returns the row as it is after the update.
func (s *MySQLStore) updateHeld(ctx context.Context, key model.SeatKey, owner model.Holder, set string, setArgs []interface{}) (model.Reservation, error) {
	if owner.IsZero() {
		return model.Reservation{}, ErrNotHeld
	}
	now := s.clock.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	clause, hargs := holderClause(owner)
	args := append(setArgs, key.FlightID, key.SeatID, now)
	args = append(args, hargs...)
	res, err := tx.ExecContext(ctx,
		`UPDATE seat_locks SET `+set+` WHERE flight_id = ? AND seat_id = ? AND expires_at > ? AND `+clause,
		args...,
	)
	if err != nil {
		return model.Reservation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Reservation{}, ErrNotHeld
	}
	r, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM seat_locks WHERE flight_id = ? AND seat_id = ?`,
		key.FlightID, key.SeatID,
	))
	if err != nil {
		return model.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Reservation{}, err
	}
	committed = true
	return r, nil
}

func (s *MySQLStore) Renew(ctx context.Context, key model.SeatKey, holder model.Holder, expiresAt time.Time) (model.Reservation, error) {
	return s.updateHeld(ctx, key, holder, "expires_at = ?, renewed = 1", []interface{}{expiresAt})
}

func (s *MySQLStore) ReassignHolder(ctx context.Context, key model.SeatKey, from, to model.Holder) (model.Reservation, error) {
	return s.updateHeld(ctx, key, from, "holder_session_id = ?, holder_user_id = ?",
		[]interface{}{to.SessionID, nullableUser(to)})
}

// SweepExpired selects and deletes expired rows inside one transaction
// so the returned keys match what was removed.
func (s *MySQLStore) SweepExpired(ctx context.Context, now time.Time) ([]model.SeatKey, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT flight_id, seat_id FROM seat_locks WHERE expires_at <= ? FOR UPDATE`, now)
	if err != nil {
		return nil, err
	}
	var keys []model.SeatKey
	for rows.Next() {
		var k model.SeatKey
		if err := rows.Scan(&k.FlightID, &k.SeatID); err != nil {
			rows.Close()
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM seat_locks WHERE expires_at <= ?`, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	sortKeys(keys)
	return keys, nil
}

func (s *MySQLStore) ListForFlight(ctx context.Context, flightID uint64) (map[string]model.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM seat_locks WHERE flight_id = ? AND expires_at > ?`,
		flightID, s.clock.Now(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]model.Reservation)
	for rows.Next() {
		r, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out[r.SeatID] = r
	}
	return out, rows.Err()
}

func (s *MySQLStore) ListByHolder(ctx context.Context, holder model.Holder) ([]model.Reservation, error) {
	if holder.IsZero() {
		return nil, nil
	}
	clause, hargs := holderClause(holder)
	args := append([]interface{}{s.clock.Now()}, hargs...)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM seat_locks WHERE expires_at > ? AND `+clause+` ORDER BY flight_id, seat_id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
