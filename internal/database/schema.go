package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables used by the service.  Flights and aircraft
// seats are owned by the fleet management side and only created here so
// a fresh database is usable; seat_locks and bookings belong to the
// reservation engine.
var schema = []struct {
	name string
	ddl  string
}{
	{"flights", `CREATE TABLE IF NOT EXISTS flights (
  id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
  flight_number VARCHAR(16)     NOT NULL,
  aircraft_id   BIGINT UNSIGNED NOT NULL,
  departs_at    DATETIME        NOT NULL,
  PRIMARY KEY (id),
  KEY idx_flights_aircraft (aircraft_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"aircraft_seats", `CREATE TABLE IF NOT EXISTS aircraft_seats (
  aircraft_id       BIGINT UNSIGNED NOT NULL,
  seat_id           VARCHAR(8)      NOT NULL,
  seat_row          INT UNSIGNED    NOT NULL,
  seat_column       VARCHAR(2)      NOT NULL,
  class             ENUM('economy','business','first') NOT NULL DEFAULT 'economy',
  is_window         TINYINT(1)      NOT NULL DEFAULT 0,
  is_aisle          TINYINT(1)      NOT NULL DEFAULT 0,
  is_emergency_exit TINYINT(1)      NOT NULL DEFAULT 0,
  PRIMARY KEY (aircraft_id, seat_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"seat_locks", `CREATE TABLE IF NOT EXISTS seat_locks (
  flight_id         BIGINT UNSIGNED NOT NULL,
  seat_id           VARCHAR(8)      NOT NULL,
  holder_session_id VARCHAR(128)    NOT NULL,
  holder_user_id    VARCHAR(64)     NULL,
  created_at        DATETIME(3)     NOT NULL,
  expires_at        DATETIME(3)     NOT NULL,
  renewed           TINYINT(1)      NOT NULL DEFAULT 0,
  UNIQUE KEY uq_seat_locks_flight_seat (flight_id, seat_id),
  KEY idx_seat_locks_expires (expires_at),
  KEY idx_seat_locks_session (holder_session_id),
  KEY idx_seat_locks_user (holder_user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
	{"bookings", `CREATE TABLE IF NOT EXISTS bookings (
  reference          CHAR(36)        NOT NULL,
  flight_id          BIGINT UNSIGNED NOT NULL,
  seat_id            VARCHAR(8)      NOT NULL,
  passenger_first    VARCHAR(100)    NOT NULL,
  passenger_last     VARCHAR(100)    NOT NULL,
  passenger_email    VARCHAR(255)    NULL,
  passenger_document VARCHAR(64)     NULL,
  user_id            VARCHAR(64)     NULL,
  session_id         VARCHAR(128)    NOT NULL,
  created_at         DATETIME(3)     NOT NULL,
  PRIMARY KEY (reference),
  UNIQUE KEY uq_bookings_flight_seat (flight_id, seat_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`},
}

// EnsureSchema creates any missing table.  Existing tables are left as
// they are.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, t := range schema {
		if _, err := db.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
	}
	return nil
}
