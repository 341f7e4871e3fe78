package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed int64) (*rand.Rand, error)

	// ChainStream creates the stream owned by one sampling chain. Chains of
	// the same run never share a stream, and the same (run, chain, seed)
	// triple always reproduces the same sequence so merged posteriors are
	// replayable.
	ChainStream(ctx context.Context, runID string, chain int, baseSeed int64) (*rand.Rand, error)

	// ValidateSeed ensures the seed produces expected deterministic results
	ValidateSeed(ctx context.Context, name string, seed int64, expected []float64) error
}
