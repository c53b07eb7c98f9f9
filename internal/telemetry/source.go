package telemetry

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/nerrad567/controlbridge/internal/state"
)

// Source produces one telemetry sample per call.
//
// A sample with nil Lamps makes the store mirror the toggles at apply time.
type Source interface {
	Read(ctx context.Context) (state.Telemetry, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (state.Telemetry, error)

// Read calls f(ctx).
func (f SourceFunc) Read(ctx context.Context) (state.Telemetry, error) {
	return f(ctx)
}

// Synthetic value ranges.
const (
	syntheticCountMax   = 1000
	syntheticReadingMax = 50.0
)

// SyntheticSource generates random samples: gauges uniform in [0,100),
// an integer counter in [0,1000) and a reading in [0,50) with two decimals.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticSource creates a randomly seeded synthetic source.
func NewSyntheticSource() *SyntheticSource {
	return NewSeededSource(rand.Uint64(), rand.Uint64())
}

// NewSeededSource creates a synthetic source with a fixed seed.
func NewSeededSource(seed1, seed2 uint64) *SyntheticSource {
	return &SyntheticSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Read returns the next synthetic sample. It never fails.
func (s *SyntheticSource) Read(context.Context) (state.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t state.Telemetry
	for i := range t.Gauges {
		t.Gauges[i] = s.rng.Float64() * state.GaugeMax
	}
	t.Variables = state.Variables{
		Count:   s.rng.Int64N(syntheticCountMax),
		Reading: math.Round(s.rng.Float64()*syntheticReadingMax*100) / 100,
	}
	return t, nil
}
