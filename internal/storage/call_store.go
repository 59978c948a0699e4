package storage

import (
	"fmt"

	"dbconduit/internal/domain"
)

// CallStore records terminal calls in SQLite.
type CallStore struct {
	db *DB
}

// NewCallStore creates a new CallStore.
func NewCallStore(db *DB) *CallStore {
	return &CallStore{db: db}
}

// UpsertCall inserts or replaces the record for a call.
func (s *CallStore) UpsertCall(c domain.CallDetails) error {
	_, err := s.db.Conn().Exec(
		`INSERT INTO calls (id, conn_id, query, state, error, timestamp_us, time_taken_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state=excluded.state, error=excluded.error, time_taken_us=excluded.time_taken_us`,
		c.ID, c.ConnID, c.Query, string(c.State), c.Error, c.Timestamp, c.TimeTaken,
	)
	return err
}

// ListCalls returns the calls of a connection, oldest first.
func (s *CallStore) ListCalls(connID string) ([]domain.CallDetails, error) {
	rows, err := s.db.Conn().Query(
		`SELECT id, conn_id, query, state, error, timestamp_us, time_taken_us
		 FROM calls WHERE conn_id = ? ORDER BY timestamp_us, id`, connID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []domain.CallDetails
	for rows.Next() {
		var c domain.CallDetails
		var state string
		if err := rows.Scan(&c.ID, &c.ConnID, &c.Query, &state, &c.Error, &c.Timestamp, &c.TimeTaken); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		c.State = domain.CallState(state)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// DeleteCallsByConnection removes the call records and archives of a connection.
func (s *CallStore) DeleteCallsByConnection(connID string) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM call_rows WHERE call_id IN (SELECT id FROM calls WHERE conn_id = ?)`,
		`DELETE FROM call_archives WHERE call_id IN (SELECT id FROM calls WHERE conn_id = ?)`,
		`DELETE FROM calls WHERE conn_id = ?`,
	} {
		if _, err := tx.Exec(q, connID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
