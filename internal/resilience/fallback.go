package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every tier in a [TierGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all tiers failed")

// TierConfig configures a [TierGroup].
type TierConfig struct {
	// CircuitBreaker is the template for the per-tier breakers. Name is
	// replaced with the tier name.
	CircuitBreaker CircuitBreakerConfig

	// OnFailure, if set, is called for every tier that fails (not for tiers
	// skipped because their breaker is open).
	OnFailure func(tier string, err error)
}

// tierEntry pairs a strategy with its dedicated circuit breaker.
type tierEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// TierGroup is an ordered list of interchangeable strategies. Execution tries
// them in registration order and stops at the first success.
//
// Register tiers before the first execution; execution itself is safe for
// concurrent use.
type TierGroup[T any] struct {
	tiers []tierEntry[T]
	cfg   TierConfig
}

// NewTierGroup returns an empty group.
func NewTierGroup[T any](cfg TierConfig) *TierGroup[T] {
	return &TierGroup[T]{cfg: cfg}
}

// Add appends a tier and returns the group for chaining.
func (g *TierGroup[T]) Add(name string, value T) *TierGroup[T] {
	cbCfg := g.cfg.CircuitBreaker
	cbCfg.Name = name
	g.tiers = append(g.tiers, tierEntry[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
	return g
}

// Names returns the tier names in order.
func (g *TierGroup[T]) Names() []string {
	out := make([]string, len(g.tiers))
	for i, t := range g.tiers {
		out[i] = t.name
	}
	return out
}

// Breaker returns the circuit breaker of the named tier, or nil.
func (g *TierGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, t := range g.tiers {
		if t.name == name {
			return t.breaker
		}
	}
	return nil
}

// FirstSuccess runs fn against each tier of g in order and returns the first
// successful result together with the name of the tier that produced it.
// If every tier fails the error wraps [ErrAllFailed] and joins the individual
// tier errors. A done ctx stops the walk before the next tier.
//
// This is a package-level function because Go does not support method-level
// type parameters.
func FirstSuccess[T, R any](ctx context.Context, g *TierGroup[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.tiers {
		t := &g.tiers[i]
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		var result R
		err := t.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, t.value)
			return innerErr
		})
		if err == nil {
			return result, t.name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping tier (circuit open)", "tier", t.name)
			continue
		}
		slog.Warn("tier failed, trying next", "tier", t.name, "err", err)
		if g.cfg.OnFailure != nil {
			g.cfg.OnFailure(t.name, err)
		}
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
