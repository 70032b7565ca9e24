package trace

import (
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers.
const (
	fieldVersion   protowire.Number = 1
	fieldTokens    protowire.Number = 2
	fieldCount     protowire.Number = 3
	fieldCapacity  protowire.Number = 4
	fieldSignature protowire.Number = 5
)

// Marshal encodes p in the protobuf wire format.
func Marshal(p *PathTrace) []byte {
	raw := make([]byte, len(p.tokens))
	for i, t := range p.tokens {
		raw[i] = byte(t)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.version))
	b = protowire.AppendTag(b, fieldTokens, protowire.BytesType)
	b = protowire.AppendBytes(b, raw)
	b = protowire.AppendTag(b, fieldCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(p.tokens)))
	b = protowire.AppendTag(b, fieldCapacity, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.capacity))
	b = protowire.AppendTag(b, fieldSignature, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, p.signature)
	return b
}

// Unmarshal decodes a trace written by Marshal. A missing version tag, an
// unsupported version, a count that disagrees with the token bytes, or a
// signature that does not match the bytes fail closed. Raw values outside
// the whitelist decode to Unknown.
func Unmarshal(b []byte) (*PathTrace, error) {
	var (
		version       uint64
		haveVersion   bool
		raw           []byte
		count         uint64
		haveCount     bool
		capacity      uint64
		signature     uint64
		haveSignature bool
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, failclosed.Newf(failclosed.CodePresenceTagViolation, "trace: bad tag: %v", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(b)
			haveVersion = true
		case num == fieldTokens && typ == protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		case num == fieldCount && typ == protowire.VarintType:
			count, n = protowire.ConsumeVarint(b)
			haveCount = true
		case num == fieldCapacity && typ == protowire.VarintType:
			capacity, n = protowire.ConsumeVarint(b)
		case num == fieldSignature && typ == protowire.Fixed64Type:
			signature, n = protowire.ConsumeFixed64(b)
			haveSignature = true
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, failclosed.Newf(failclosed.CodeCanonicalLengthMismatch, "trace: field %d: %v", num, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if !haveVersion {
		return nil, failclosed.New(failclosed.CodePresenceTagViolation, "trace: version tag missing")
	}
	if version < uint64(MinSupportedVersion) || version > uint64(Version) {
		return nil, failclosed.Newf(failclosed.CodeUnknownLayoutVersion, "trace: layout version %d not in [%d, %d]", version, MinSupportedVersion, Version)
	}
	if haveCount && count != uint64(len(raw)) {
		return nil, failclosed.Newf(failclosed.CodeCanonicalLengthMismatch, "trace: count %d, %d token bytes", count, len(raw))
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity > MaxCapacity {
		return nil, failclosed.Newf(failclosed.CodeCanonicalLengthMismatch, "trace: capacity %d exceeds %d", capacity, MaxCapacity)
	}
	if uint64(len(raw)) > capacity {
		return nil, failclosed.Newf(failclosed.CodeCanonicalLengthMismatch, "trace: %d tokens exceed capacity %d", len(raw), capacity)
	}

	tokens := make([]Token, len(raw))
	rawTokens := make([]Token, len(raw))
	for i, r := range raw {
		tokens[i] = FromRaw(r)
		rawTokens[i] = Token(r)
	}
	if haveSignature && signature != Signature(uint16(version), rawTokens) {
		return nil, failclosed.Newf(failclosed.CodeCryptoImplementationMismatch, "trace: signature %016x does not match token bytes", signature)
	}

	p := &PathTrace{
		version:  uint16(version),
		capacity: int(capacity),
		tokens:   tokens,
	}
	p.signature = Signature(p.version, p.tokens)
	return p, nil
}
