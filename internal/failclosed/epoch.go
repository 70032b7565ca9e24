package failclosed

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/clock"
)

// EpochEnforcedSchemaVersion is the first schema version at which a policy
// epoch rollback is refused. Older schemas are inside the back-compat window.
const EpochEnforcedSchemaVersion uint16 = 2

// ErrNegativeEpoch is returned for epochs below zero.
var ErrNegativeEpoch = errors.New("failclosed: negative policy epoch")

// #region registry
// TierID names a policy tier.
type TierID string

// EpochObservation is the stored maximum for one tier.
type EpochObservation struct {
	MaxEpoch      int64
	SchemaVersion uint16
	UpdatedAt     time.Time
}

// PolicyEpochRegistry tracks the highest policy epoch seen per tier for the
// life of the process. It is explicitly constructed and shared by reference;
// all writes are serialized and reads see a single consistent instant.
type PolicyEpochRegistry struct {
	mu     sync.RWMutex
	tiers  map[TierID]EpochObservation
	clock  clock.Provider
	logger zerolog.Logger
}

// RegistryOption configures a PolicyEpochRegistry.
type RegistryOption func(*PolicyEpochRegistry)

// WithRegistryClock sets the time provider used to stamp observations.
func WithRegistryClock(c clock.Provider) RegistryOption {
	return func(r *PolicyEpochRegistry) { r.clock = c }
}

// WithRegistryLogger sets the logger used for rollback reports.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *PolicyEpochRegistry) { r.logger = l }
}

// NewPolicyEpochRegistry creates an empty registry.
func NewPolicyEpochRegistry(opts ...RegistryOption) *PolicyEpochRegistry {
	r := &PolicyEpochRegistry{
		tiers:  make(map[TierID]EpochObservation),
		clock:  clock.System{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// #endregion registry

// #region validate-and-update
// ValidateAndUpdate records epoch for tier. At or above
// EpochEnforcedSchemaVersion an epoch lower than the stored maximum is a
// rollback: the call fails with CodePolicyEpochRollback and the maximum is left
// untouched. The maximum only ever moves upward.
func (r *PolicyEpochRegistry) ValidateAndUpdate(tier TierID, epoch int64, schemaVersion uint16) error {
	if epoch < 0 {
		return fmt.Errorf("%w: tier %q epoch %d", ErrNegativeEpoch, tier, epoch)
	}
	tier = TierID(strings.TrimSpace(string(tier)))

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, seen := r.tiers[tier]
	if seen && epoch < prev.MaxEpoch {
		if schemaVersion >= EpochEnforcedSchemaVersion {
			r.logger.Error().
				Str("tier", string(tier)).
				Int64("epoch", epoch).
				Int64("max_epoch", prev.MaxEpoch).
				Uint16("schema_version", schemaVersion).
				Msg("policy epoch rollback refused")
			return Newf(CodePolicyEpochRollback, "tier %q epoch %d below max %d", tier, epoch, prev.MaxEpoch)
		}
		r.logger.Warn().
			Str("tier", string(tier)).
			Int64("epoch", epoch).
			Int64("max_epoch", prev.MaxEpoch).
			Msg("policy epoch rollback tolerated for legacy schema")
		return nil
	}

	r.tiers[tier] = EpochObservation{
		MaxEpoch:      epoch,
		SchemaVersion: schemaVersion,
		UpdatedAt:     r.clock.Now(),
	}
	return nil
}

// #endregion validate-and-update

// #region reads
// MaxEpoch returns the highest epoch recorded for tier.
func (r *PolicyEpochRegistry) MaxEpoch(tier TierID) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obs, ok := r.tiers[TierID(strings.TrimSpace(string(tier)))]
	return obs.MaxEpoch, ok
}

// Snapshot copies every tier's observation at one instant.
func (r *PolicyEpochRegistry) Snapshot() map[TierID]EpochObservation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.tiers)
}

// #endregion reads
