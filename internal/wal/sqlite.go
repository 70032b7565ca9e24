package wal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS wal_entries (
	seq           INTEGER PRIMARY KEY,
	entry_id      TEXT NOT NULL UNIQUE,
	hash          BLOB,
	payload       BLOB,
	integrity     INTEGER NOT NULL,
	chain         BLOB NOT NULL,
	appended_at   TEXT NOT NULL,
	committed     INTEGER NOT NULL DEFAULT 0,
	committed_at  TEXT
);

CREATE TABLE IF NOT EXISTS wal_meta (
	key    TEXT PRIMARY KEY,
	value  TEXT NOT NULL
);
`

// #endregion schema

// #region sqlite-backend
// SQLiteBackend stores the log in a SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens dbPath and runs migrations.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma sync: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// DB returns the underlying *sql.DB for read-only tooling.
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

func (s *SQLiteBackend) Load() ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT seq, entry_id, hash, payload, integrity, chain, appended_at, committed, committed_at
		 FROM wal_entries ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			id          string
			integrity   int64
			chain       []byte
			appendedAt  string
			committed   int
			committedAt sql.NullString
		)
		if err := rows.Scan(&e.Seq, &id, &e.Hash, &e.Payload, &integrity, &chain, &appendedAt, &committed, &committedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("entry %d id: %w", e.Seq, err)
		}
		if len(chain) != len(e.Chain) {
			return nil, fmt.Errorf("entry %d chain length %d", e.Seq, len(chain))
		}
		copy(e.Chain[:], chain)
		e.IntegrityState = uint64(integrity)
		if e.AppendedAt, err = time.Parse(time.RFC3339Nano, appendedAt); err != nil {
			return nil, fmt.Errorf("entry %d appended_at: %w", e.Seq, err)
		}
		e.Committed = committed != 0
		if committedAt.Valid {
			if e.CommittedAt, err = time.Parse(time.RFC3339Nano, committedAt.String); err != nil {
				return nil, fmt.Errorf("entry %d committed_at: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Append(e Entry) error {
	_, err := s.db.Exec(
		`INSERT INTO wal_entries (seq, entry_id, hash, payload, integrity, chain, appended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.ID.String(), e.Hash, e.Payload, int64(e.IntegrityState), e.Chain[:],
		e.AppendedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Commit(seq uint64, at time.Time) error {
	res, err := s.db.Exec(
		`UPDATE wal_entries SET committed = 1, committed_at = ? WHERE seq = ? AND committed = 0`,
		at.UTC().Format(time.RFC3339Nano), seq,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("commit seq %d: %d rows updated", seq, n)
	}
	return nil
}

func (s *SQLiteBackend) Meta(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM wal_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, true, nil
}

func (s *SQLiteBackend) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO wal_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// #endregion sqlite-backend
