// Package failclosed holds the closed-world contract layer: the registered
// fail-closed error codes, the typed error that carries them, and the policy
// epoch registry that refuses configuration rollback.
package failclosed

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// #region codes
// Code is a permanently allocated fail-closed error code. Codes are assigned
// sequentially from CodeBase and are never reused or renumbered.
type Code uint16

const CodeBase Code = 0xFC00

const (
	CodePresenceTagViolation Code = CodeBase + 1 + iota
	CodeFlowCounterMismatch
	CodeUnknownLayoutVersion
	CodeUUIDCanonicalization
	CodePolicyEpochRollback
	CodeLimiterArithmeticOverflow
	CodeCanonicalLengthMismatch
	CodeCryptoImplementationMismatch

	codeEnd
)

// ErrUnregisteredCode is returned when a raw value is not an allocated code.
var ErrUnregisteredCode = errors.New("failclosed: unregistered code")

var codeNames = map[Code]string{
	CodePresenceTagViolation:         "PRESENCE_TAG_VIOLATION",
	CodeFlowCounterMismatch:          "FLOW_COUNTER_MISMATCH",
	CodeUnknownLayoutVersion:         "UNKNOWN_LAYOUT_VERSION",
	CodeUUIDCanonicalization:         "UUID_CANONICALIZATION",
	CodePolicyEpochRollback:          "POLICY_EPOCH_ROLLBACK",
	CodeLimiterArithmeticOverflow:    "LIMITER_ARITHMETIC_OVERFLOW",
	CodeCanonicalLengthMismatch:      "CANONICAL_LENGTH_MISMATCH",
	CodeCryptoImplementationMismatch: "CRYPTO_IMPLEMENTATION_MISMATCH",
}

// Registered lists every allocated code in allocation order.
func Registered() []Code {
	out := make([]Code, 0, int(codeEnd-CodeBase-1))
	for c := CodeBase + 1; c < codeEnd; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is an allocated code.
func (c Code) Valid() bool {
	return c > CodeBase && c < codeEnd
}

// ParseCode converts a raw wire value. Unknown values are a violation, not a
// harmless default.
func ParseCode(raw uint16) (Code, error) {
	c := Code(raw)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: 0x%04X", ErrUnregisteredCode, raw)
	}
	return c, nil
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNREGISTERED(0x%04X)", uint16(c))
}

// GRPCCode maps fail-closed codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodePolicyEpochRollback,
		CodeFlowCounterMismatch:
		return codes.FailedPrecondition

	case CodePresenceTagViolation,
		CodeUnknownLayoutVersion,
		CodeUUIDCanonicalization,
		CodeCanonicalLengthMismatch:
		return codes.InvalidArgument

	case CodeLimiterArithmeticOverflow:
		return codes.OutOfRange

	case CodeCryptoImplementationMismatch:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}

// #endregion codes
