// Package recorder persists decoded telemetry to SQLite. Each run of the
// viewer opens a session identified by a UUID; every reading is stored
// against it.
package recorder

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"magarray-go/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	started_at   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS readings (
	reading_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	received_at  INTEGER NOT NULL,
	pos_x        REAL NOT NULL,
	pos_y        REAL NOT NULL,
	pos_z        REAL NOT NULL,
	field_x      REAL,
	field_y      REAL,
	field_z      REAL,
	temp_c       REAL,
	FOREIGN KEY(session_id) REFERENCES sessions(session_id)
);
CREATE INDEX IF NOT EXISTS readings_session ON readings(session_id, reading_id);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

type Store struct {
	db *sql.DB
}

// Session is one recording run.
type Session struct {
	ID        string
	Source    string
	StartedAt time.Time
}

// Reading is one stored message with its arrival time.
type Reading struct {
	ReceivedAt time.Time
	Message    wire.Message
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// NewSession registers a fresh session for source.
func (s *Store) NewSession(ctx context.Context, source string, now time.Time) (Session, error) {
	sess := Session{ID: uuid.New().String(), Source: source, StartedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, source, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Source, now.UnixNano())
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Sessions lists sessions, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, source, started_at FROM sessions ORDER BY started_at, session_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started int64
		if err := rows.Scan(&sess.ID, &sess.Source, &started); err != nil {
			return nil, err
		}
		sess.StartedAt = time.Unix(0, started)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Insert stores recs under session in one transaction.
func (s *Store) Insert(ctx context.Context, session string, recs []Reading) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO readings (
		session_id, received_at, pos_x, pos_y, pos_z, field_x, field_y, field_z, temp_c
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		m := r.Message
		_, err := stmt.ExecContext(ctx, session, r.ReceivedAt.UnixNano(),
			float64(m.Position.X), float64(m.Position.Y), float64(m.Position.Z),
			nullable(m.Field.X.Valid, m.Field.X.Value),
			nullable(m.Field.Y.Valid, m.Field.Y.Value),
			nullable(m.Field.Z.Valid, m.Field.Z.Value),
			nullable(m.Field.T.Valid, m.Field.T.Value))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Readings returns the readings of session in arrival order.
func (s *Store) Readings(ctx context.Context, session string) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT received_at, pos_x, pos_y, pos_z, field_x, field_y, field_z, temp_c
		FROM readings WHERE session_id = ? ORDER BY reading_id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			at            int64
			px, py, pz    float64
			bx, by, bz, t sql.NullFloat64
		)
		if err := rows.Scan(&at, &px, &py, &pz, &bx, &by, &bz, &t); err != nil {
			return nil, err
		}
		out = append(out, Reading{
			ReceivedAt: time.Unix(0, at),
			Message: wire.NewMessage(wire.MagneticField{
				X: microtesla(bx),
				Y: microtesla(by),
				Z: microtesla(bz),
				T: wire.Celsius{Value: float32(t.Float64), Valid: t.Valid},
			}, wire.Position{X: float32(px), Y: float32(py), Z: float32(pz)}),
		})
	}
	return out, rows.Err()
}

func nullable(valid bool, v float32) sql.NullFloat64 {
	return sql.NullFloat64{Float64: float64(v), Valid: valid}
}

func microtesla(v sql.NullFloat64) wire.Microtesla {
	return wire.Microtesla{Value: float32(v.Float64), Valid: v.Valid}
}
