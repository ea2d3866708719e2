// Package store keeps the results of assessment sessions in a SQLite
// database: one row per rating and one per display interval, tagged with
// the run they belong to.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lftracking/internal/timeutil"
	"lftracking/pkg/dwell"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id            TEXT PRIMARY KEY,
		started_at        TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS ratings (
		run_id            TEXT NOT NULL,
		image             TEXT NOT NULL,
		value             INTEGER NOT NULL,
		answered_at       TIMESTAMP NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE TABLE IF NOT EXISTS dwell (
		run_id            TEXT NOT NULL,
		image             TEXT NOT NULL,
		path              TEXT NOT NULL,
		u                 INTEGER NOT NULL,
		v                 INTEGER NOT NULL,
		depth             INTEGER,
		start_time        TIMESTAMP NOT NULL,
		end_time          TIMESTAMP NOT NULL,
		on_screen_us      BIGINT NOT NULL,
		total_us          BIGINT NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_ratings_run ON ratings(run_id);
	CREATE INDEX IF NOT EXISTS idx_dwell_run_image ON dwell(run_id, image);
`

// Store appends the results of one run to a database.
type Store struct {
	db    *sql.DB
	runID string
	clock timeutil.Clock
}

// Rating is a stored answer.
type Rating struct {
	RunID      string
	Image      string
	Value      int
	AnsweredAt time.Time
}

// Open opens or creates the database at path and registers a new run.
// clock stamps the rows, the real clock when nil.
func Open(path string, clock timeutil.Clock) (*Store, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps an in-memory database alive and serialises writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{db: db, runID: uuid.NewString(), clock: clock}
	if _, err := db.Exec("INSERT INTO runs (run_id, started_at) VALUES (?, ?)", s.runID, clock.Now().UTC()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	return s, nil
}

// RunID returns the identifier of the run written by this store.
func (s *Store) RunID() string { return s.runID }

// RecordRating stores the answer given for image.
func (s *Store) RecordRating(image string, value int) error {
	_, err := s.db.Exec(
		"INSERT INTO ratings (run_id, image, value, answered_at) VALUES (?, ?, ?, ?)",
		s.runID, image, value, s.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record rating of %s: %w", image, err)
	}
	return nil
}

// RecordDwell stores one display interval.
func (s *Store) RecordDwell(r dwell.Record) error {
	var depth sql.NullInt64
	if d, ok := r.Coordinate.Depth(); ok {
		depth = sql.NullInt64{Int64: int64(d), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO dwell (run_id, image, path, u, v, depth, start_time, end_time, on_screen_us, total_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, r.Image, r.Path, r.Coordinate.U(), r.Coordinate.V(), depth,
		r.Start.UTC(), r.End.UTC(), r.OnScreen.Microseconds(), r.Total.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record dwell of %s: %w", r.Path, err)
	}
	return nil
}

// Record implements dwell.Recorder.
func (s *Store) Record(r dwell.Record) error { return s.RecordDwell(r) }

// Separator implements dwell.Recorder. Rows carry their image, so image
// boundaries need no marker.
func (s *Store) Separator() error { return nil }

// Ratings returns the ratings of the run in the order they were given.
func (s *Store) Ratings() ([]Rating, error) {
	rows, err := s.db.Query(
		"SELECT run_id, image, value, answered_at FROM ratings WHERE run_id = ? ORDER BY rowid",
		s.runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ratings []Rating
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.RunID, &r.Image, &r.Value, &r.AnsweredAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ratings, nil
}

// DwellTotals returns the summed on-screen time of each view path of image.
func (s *Store) DwellTotals(image string) (map[string]time.Duration, error) {
	rows, err := s.db.Query(
		"SELECT path, SUM(on_screen_us) FROM dwell WHERE run_id = ? AND image = ? GROUP BY path",
		s.runID, image,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]time.Duration)
	for rows.Next() {
		var path string
		var us int64
		if err := rows.Scan(&path, &us); err != nil {
			return nil, err
		}
		totals[path] = time.Duration(us) * time.Microsecond
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
