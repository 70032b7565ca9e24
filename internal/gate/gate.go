package gate

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/fence"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
)

// #region gate
// Gate validates build-request metrics against the current policy. The
// policy epoch is enforced through a registry shared with every other gate
// in the process, so a gate left holding a superseded policy fails closed.
type Gate struct {
	mu       sync.RWMutex
	policy   PolicyConstants
	registry *failclosed.PolicyEpochRegistry
	fence    *fence.Fence
	logger   zerolog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the gate's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate with the given policy. The policy's epoch is
// registered immediately.
func NewGate(policy PolicyConstants, registry *failclosed.PolicyEpochRegistry, f *fence.Fence, opts ...Option) (*Gate, error) {
	if registry == nil {
		return nil, fmt.Errorf("gate: nil epoch registry")
	}
	if f == nil {
		f = fence.New(nil)
	}
	g := &Gate{registry: registry, fence: f, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	if err := g.Reload(policy); err != nil {
		return nil, err
	}
	return g, nil
}

// Policy returns the active policy.
func (g *Gate) Policy() PolicyConstants {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// Reload swaps in a new policy after validating it and checking its epoch.
// On any error the previous policy stays active.
func (g *Gate) Reload(policy PolicyConstants) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if err := g.registry.ValidateAndUpdate(policy.Tier, policy.Epoch, policy.SchemaVersion); err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	g.mu.Lock()
	g.policy = policy
	g.mu.Unlock()
	g.logger.Info().
		Str("tier", string(policy.Tier)).
		Int64("epoch", policy.Epoch).
		Uint16("schema_version", policy.SchemaVersion).
		Msg("gate policy loaded")
	return nil
}

// Evaluate validates m and scores it. Invalid metrics are not an error:
// they yield the fallback quality and GateFallback. Errors are fail-closed
// only: a policy epoch rollback or a Tier-0 gate_quality overflow.
func (g *Gate) Evaluate(m Metrics) (Evaluation, error) {
	policy := g.Policy()
	if err := g.registry.ValidateAndUpdate(policy.Tier, policy.Epoch, policy.SchemaVersion); err != nil {
		return Evaluation{}, fmt.Errorf("evaluate: %w", err)
	}

	res := Validate(m, policy)
	if !res.Valid {
		g.logger.Debug().
			Stringer("reason", res.Reason).
			Int64("fallback_q16", int64(res.Fallback)).
			Msg("gate inputs invalid")
		return Evaluation{Result: res, Quality: res.Fallback, Token: trace.GateFallback}, nil
	}

	q, err := Quality(res.Inputs, policy, g.fence)
	if err != nil {
		return Evaluation{Result: res, Quality: q}, fmt.Errorf("evaluate: %w", err)
	}
	return Evaluation{Result: res, Quality: q, Token: trace.GatePass}, nil
}

// #endregion gate
