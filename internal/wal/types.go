// Package wal is an append-then-commit log of opaque signed payloads. Every
// entry carries the caller's content hash and integrity state plus a SHA3
// chain value linking it to its predecessor, so a reopened log can prove
// nothing was reordered, dropped, or rewritten.
package wal

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ChainAlgorithm tags how Entry.Chain is computed. A backend written with a
// different tag is refused on open.
const ChainAlgorithm = "sha3-256/seq-be64/v1"

var (
	// ErrNotAppended is returned when committing an entry this log never appended.
	ErrNotAppended = errors.New("wal: entry was not appended")
	// ErrAlreadyCommitted is returned on a second commit of the same entry.
	ErrAlreadyCommitted = errors.New("wal: entry already committed")
	// ErrClosed is returned by operations on a closed log.
	ErrClosed = errors.New("wal: log closed")
)

// #region entry
// Entry is one log record. Only Committed and CommittedAt ever change after
// append, and only once.
type Entry struct {
	ID             uuid.UUID
	Seq            uint64
	Hash           []byte
	Payload        []byte
	IntegrityState uint64
	Chain          [32]byte
	AppendedAt     time.Time
	Committed      bool
	CommittedAt    time.Time
}

// clone returns e with its byte slices copied.
func (e Entry) clone() Entry {
	e.Hash = slices.Clone(e.Hash)
	e.Payload = slices.Clone(e.Payload)
	return e
}

// #endregion entry

// #region backend
// Backend persists entries. The log serializes every call; backends need
// not be safe for concurrent use by more than one Log.
type Backend interface {
	// Load returns every stored entry ordered by Seq.
	Load() ([]Entry, error)
	// Append stores a new uncommitted entry.
	Append(e Entry) error
	// Commit marks the entry at seq committed.
	Commit(seq uint64, at time.Time) error
	// Meta reads a metadata value.
	Meta(key string) (string, bool, error)
	// SetMeta writes a metadata value.
	SetMeta(key, value string) error
	Close() error
}

// #endregion backend
