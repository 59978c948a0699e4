package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"dbconduit/internal/domain"
)

// ArchiveStore keeps the rows of each call, indexed from 0.
type ArchiveStore struct {
	db *DB
}

// NewArchiveStore creates a new ArchiveStore.
func NewArchiveStore(db *DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// SetHeader stores the column names of a call.
func (s *ArchiveStore) SetHeader(callID string, header domain.Header) error {
	colJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	_, err = s.db.Conn().Exec(
		`INSERT INTO call_archives (call_id, columns_json) VALUES (?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET columns_json=excluded.columns_json`,
		callID, string(colJSON),
	)
	return err
}

// Header returns the stored column names of a call, or nil.
func (s *ArchiveStore) Header(callID string) (domain.Header, error) {
	var colJSON string
	err := s.db.Conn().QueryRow(`SELECT columns_json FROM call_archives WHERE call_id = ?`, callID).Scan(&colJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var header domain.Header
	if err := json.Unmarshal([]byte(colJSON), &header); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}
	return header, nil
}

// AppendRows stores rows at indexes [offset, offset+len(rows)) in one transaction.
func (s *ArchiveStore) AppendRows(callID string, offset int, rows []domain.Row) error {
	tx, err := s.db.Conn().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO call_rows (call_id, idx, row_json) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row %d: %w", offset+i, err)
		}
		if _, err := stmt.Exec(callID, offset+i, string(data)); err != nil {
			return fmt.Errorf("insert row %d: %w", offset+i, err)
		}
	}
	return tx.Commit()
}

// Rows returns the rows with indexes in [from, to).
func (s *ArchiveStore) Rows(callID string, from, to int) ([]domain.Row, error) {
	rows, err := s.db.Conn().Query(
		`SELECT row_json FROM call_rows WHERE call_id = ? AND idx >= ? AND idx < ? ORDER BY idx`,
		callID, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var row domain.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("unmarshal row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Count returns how many rows are archived for a call.
func (s *ArchiveStore) Count(callID string) (int, error) {
	var n int
	err := s.db.Conn().QueryRow(`SELECT COUNT(*) FROM call_rows WHERE call_id = ?`, callID).Scan(&n)
	return n, err
}

// DeleteArchive drops the rows and header of a call.
func (s *ArchiveStore) DeleteArchive(callID string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM call_rows WHERE call_id = ?`, callID)
	if err != nil {
		return err
	}
	_, err = s.db.Conn().Exec(`DELETE FROM call_archives WHERE call_id = ?`, callID)
	return err
}
