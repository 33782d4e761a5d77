package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the durable registry backend. The schema is INSERT-only: entries
// and parts are written in one transaction at registration and never updated,
// which keeps concurrent writers safe with nothing beyond sqlite's own
// locking.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if err := ensureSchema(path); err != nil {
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent registration.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Register(ctx context.Context, kind Kind, filename string, parts []Part) (string, error) {
	if err := ValidateParts(parts); err != nil {
		return "", fmt.Errorf("invalid parts: %w", err)
	}
	token, err := NewToken()
	if err != nil {
		return "", fmt.Errorf("allocating token: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (token, kind, filename, total_bytes, created_at) VALUES (?, ?, ?, ?, ?)`,
		token, string(kind), filename, TotalBytes(parts), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting entry: %w", err)
	}
	for _, p := range parts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO parts (token, idx, backend, carrier_id, byte_offset, byte_length, checksum) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			token, p.Index, p.Backend, p.CarrierID, p.Offset, p.Length, int64(p.Checksum),
		)
		if err != nil {
			return "", fmt.Errorf("inserting part %d: %w", p.Index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return token, nil
}

func (s *SQLite) Resolve(ctx context.Context, token string) (*Entry, error) {
	entry := Entry{Token: token}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, filename, total_bytes, created_at FROM entries WHERE token = ?`,
		token,
	).Scan((*string)(&entry.Kind), &entry.Filename, &entry.TotalBytes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting entry: %w", err)
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, backend, carrier_id, byte_offset, byte_length, checksum FROM parts WHERE token = ? ORDER BY idx`,
		token,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting parts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p Part
		var checksum int64
		if err := rows.Scan(&p.Index, &p.Backend, &p.CarrierID, &p.Offset, &p.Length, &checksum); err != nil {
			return nil, fmt.Errorf("scanning part: %w", err)
		}
		p.Checksum = uint64(checksum)
		entry.Parts = append(entry.Parts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parts: %w", err)
	}
	if len(entry.Parts) == 0 {
		return nil, fmt.Errorf("entry %q has no parts", token)
	}
	return &entry, nil
}
