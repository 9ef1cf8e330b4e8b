package kpi

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	core "github.com/kilianp07/flexneg/core/kpi"
)

// SQLiteStore persists KPI records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS energy_kpi (
        participant_id TEXT,
        day INTEGER,
        supplied REAL,
        received REAL,
        PRIMARY KEY(participant_id, day)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Add inserts or accumulates the KPI record.
func (s *SQLiteStore) Add(r core.Record) error {
	d := core.Day(r.Date)
	_, err := s.db.Exec(`INSERT INTO energy_kpi (participant_id, day, supplied, received)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(participant_id, day) DO UPDATE SET
            supplied = supplied + excluded.supplied,
            received = received + excluded.received`,
		r.ParticipantID, d.Unix(), r.Supplied, r.Received)
	return err
}

// Query returns records in the range [start,end].
func (s *SQLiteStore) Query(participantID string, start, end time.Time) ([]core.Record, error) {
	start = core.Day(start)
	end = core.Day(end)
	rows, err := s.db.Query(`SELECT participant_id, day, supplied, received
        FROM energy_kpi WHERE (? = '' OR participant_id = ?) AND day >= ? AND day <= ?
        ORDER BY participant_id, day`,
		participantID, participantID, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []core.Record
	for rows.Next() {
		var r core.Record
		var ts int64
		if err := rows.Scan(&r.ParticipantID, &ts, &r.Supplied, &r.Received); err != nil {
			return nil, err
		}
		r.Date = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
