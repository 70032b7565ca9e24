package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/clock"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
)

const metaChainAlgorithm = "chain_algorithm"

// #region log
// Log is safe for concurrent use. Appends and commits are serialized; reads
// return a snapshot valid at a single instant.
type Log struct {
	mu      sync.Mutex
	backend Backend
	clock   clock.Provider
	logger  zerolog.Logger
	entries []Entry // entries[i].Seq == i+1
	pending int
	head    [32]byte
	closed  bool
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the time provider used to stamp appends and commits.
func WithClock(c clock.Provider) Option {
	return func(l *Log) { l.clock = c }
}

// WithLogger sets the log's logger.
func WithLogger(z zerolog.Logger) Option {
	return func(l *Log) { l.logger = z }
}

// Open replays backend and verifies it. A sequence gap fails with
// CodeFlowCounterMismatch; a chain break or a foreign chain algorithm fails
// with CodeCryptoImplementationMismatch.
func Open(backend Backend, opts ...Option) (*Log, error) {
	l := &Log{backend: backend, clock: clock.System{}, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}

	algo, ok, err := backend.Meta(metaChainAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("read chain algorithm: %w", err)
	}
	switch {
	case !ok:
		if err := backend.SetMeta(metaChainAlgorithm, ChainAlgorithm); err != nil {
			return nil, fmt.Errorf("write chain algorithm: %w", err)
		}
	case algo != ChainAlgorithm:
		return nil, failclosed.Newf(failclosed.CodeCryptoImplementationMismatch,
			"wal chain algorithm %q, want %q", algo, ChainAlgorithm)
	}

	stored, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	var prev [32]byte
	for i, e := range stored {
		if e.Seq != uint64(i)+1 {
			return nil, failclosed.Newf(failclosed.CodeFlowCounterMismatch,
				"wal position %d holds seq %d", i+1, e.Seq)
		}
		if chainOf(prev, e) != e.Chain {
			return nil, failclosed.Newf(failclosed.CodeCryptoImplementationMismatch,
				"wal chain broken at seq %d", e.Seq)
		}
		prev = e.Chain
		if !e.Committed {
			l.pending++
		}
	}
	l.entries = stored
	l.head = prev
	l.logger.Debug().Int("entries", len(stored)).Int("uncommitted", l.pending).Msg("wal opened")
	return l, nil
}

// Append stores a new uncommitted entry and returns it. The backend write
// completes before the entry is visible to any reader.
func (l *Log) Append(hash, payload []byte, integrityState uint64) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Entry{}, ErrClosed
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return Entry{}, fmt.Errorf("entry id: %w", err)
	}
	e := Entry{
		ID:             id,
		Seq:            uint64(len(l.entries)) + 1,
		Hash:           bytes.Clone(hash),
		Payload:        bytes.Clone(payload),
		IntegrityState: integrityState,
		AppendedAt:     l.clock.Now(),
	}
	e.Chain = chainOf(l.head, e)

	if err := l.backend.Append(e); err != nil {
		return Entry{}, fmt.Errorf("append seq %d: %w", e.Seq, err)
	}
	l.entries = append(l.entries, e)
	l.pending++
	l.head = e.Chain
	return e.clone(), nil
}

// Commit marks e committed. e must have been returned by Append on this log
// (or loaded by Open); committing twice is an error.
func (l *Log) Commit(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if e.Seq == 0 || e.Seq > uint64(len(l.entries)) {
		return fmt.Errorf("commit seq %d: %w", e.Seq, ErrNotAppended)
	}
	stored := &l.entries[e.Seq-1]
	if stored.ID != e.ID {
		return fmt.Errorf("commit seq %d id %s: %w", e.Seq, e.ID, ErrNotAppended)
	}
	if stored.Committed {
		return fmt.Errorf("commit seq %d: %w", e.Seq, ErrAlreadyCommitted)
	}

	at := l.clock.Now()
	if err := l.backend.Commit(e.Seq, at); err != nil {
		return fmt.Errorf("commit seq %d: %w", e.Seq, err)
	}
	stored.Committed = true
	stored.CommittedAt = at
	l.pending--
	return nil
}

// Uncommitted returns every entry not committed at the time of the call,
// ordered by Seq.
func (l *Log) Uncommitted() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, l.pending)
	for _, e := range l.entries {
		if !e.Committed {
			out = append(out, e.clone())
		}
	}
	return out
}

// Entries returns a snapshot of the whole log.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Len is the number of appended entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Head is the chain value of the last entry, or zero for an empty log.
func (l *Log) Head() [32]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Close closes the backend. Further calls return ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.backend.Close()
}

// #endregion log

// #region chain
// chainOf links e to prev: SHA3-256 over prev, the big-endian seq, the
// caller's hash, the big-endian integrity state and the payload digest.
func chainOf(prev [32]byte, e Entry) [32]byte {
	payloadDigest := sha3.Sum256(e.Payload)
	buf := make([]byte, 0, 32+8+len(e.Hash)+8+32)
	buf = append(buf, prev[:]...)
	buf = binary.BigEndian.AppendUint64(buf, e.Seq)
	buf = append(buf, e.Hash...)
	buf = binary.BigEndian.AppendUint64(buf, e.IntegrityState)
	buf = append(buf, payloadDigest[:]...)
	return sha3.Sum256(buf)
}

// HashPayload is the content hash callers attach to a payload.
func HashPayload(payload []byte) []byte {
	sum := sha3.Sum256(payload)
	return sum[:]
}

// #endregion chain
