// Package trace records the sequence of branch decisions taken for one
// decision unit and folds it into an order-sensitive signature that can be
// compared across runs and platforms.
package trace

import (
	"hash/fnv"
	"math"
	"slices"
)

const (
	// Version is the layout version written by this package.
	Version uint16 = 1
	// MinSupportedVersion is the oldest layout Unmarshal accepts.
	MinSupportedVersion uint16 = 1
	// DefaultCapacity bounds a trace when no capacity is given.
	DefaultCapacity = 256
	// MaxCapacity is the largest capacity a trace may carry.
	MaxCapacity = math.MaxInt32
)

// #region path-trace
// PathTrace is an append-only, bounded token sequence. A PathTrace is owned
// by one caller and is not safe for concurrent use.
type PathTrace struct {
	version   uint16
	capacity  int
	tokens    []Token
	signature uint64
}

// Option configures a PathTrace.
type Option func(*PathTrace)

// WithCapacity caps the number of recorded tokens. Values outside
// [1, MaxCapacity] fall back to DefaultCapacity.
func WithCapacity(n int) Option {
	return func(p *PathTrace) {
		if n > 0 && n <= MaxCapacity {
			p.capacity = n
		}
	}
}

// New creates an empty trace at the current layout version.
func New(opts ...Option) *PathTrace {
	p := &PathTrace{version: Version, capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(p)
	}
	p.signature = Signature(p.version, nil)
	return p
}

// Record appends t. Recording past capacity, or recording Unknown or any
// value outside the whitelist, is a silent no-op.
func (p *PathTrace) Record(t Token) {
	if !t.Known() || len(p.tokens) >= p.capacity {
		return
	}
	p.tokens = append(p.tokens, t)
	p.signature = Signature(p.version, p.tokens)
}

// Signature returns the current path signature.
func (p *PathTrace) Signature() uint64 { return p.signature }

// Tokens returns a copy of the recorded sequence.
func (p *PathTrace) Tokens() []Token { return slices.Clone(p.tokens) }

// Len is the number of recorded tokens.
func (p *PathTrace) Len() int { return len(p.tokens) }

// Cap is the configured capacity.
func (p *PathTrace) Cap() int { return p.capacity }

// Full reports whether further Record calls will be ignored.
func (p *PathTrace) Full() bool { return len(p.tokens) >= p.capacity }

// Version is the layout version of the trace.
func (p *PathTrace) Version() uint16 { return p.version }

// #endregion path-trace

// #region signature
// Signature folds the version (two bytes, big-endian) and then every token's
// raw value through 64-bit FNV-1a. Any implementation given the same version
// and sequence must produce the same value.
func Signature(version uint16, tokens []Token) uint64 {
	h := fnv.New64a()
	buf := make([]byte, 0, 2+len(tokens))
	buf = append(buf, byte(version>>8), byte(version))
	for _, t := range tokens {
		buf = append(buf, byte(t))
	}
	_, _ = h.Write(buf)
	return h.Sum64()
}

// #endregion signature
