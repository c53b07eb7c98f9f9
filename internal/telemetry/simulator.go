package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/controlbridge/internal/state"
)

// DefaultInterval is the tick period used when none is configured.
const DefaultInterval = time.Second

// Logger defines the logging interface used by the Simulator.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Simulator applies one telemetry sample to the store per interval.
type Simulator struct {
	store    *state.Store
	source   Source
	interval time.Duration
	logger   Logger
}

// New creates a simulator. A nil source selects a SyntheticSource and a
// non-positive interval selects DefaultInterval.
func New(store *state.Store, source Source, interval time.Duration) *Simulator {
	if source == nil {
		source = NewSyntheticSource()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Simulator{
		store:    store,
		source:   source,
		interval: interval,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the simulator.
func (s *Simulator) SetLogger(logger Logger) {
	s.logger = logger
}

// Run ticks until ctx is cancelled. It always returns ctx.Err().
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Warn("telemetry tick failed", "error", err)
			}
		}
	}
}

// Tick reads one sample and applies it. A rejected sample leaves the store
// unchanged and produces no notification.
func (s *Simulator) Tick(ctx context.Context) error {
	t, err := s.source.Read(ctx)
	if err != nil {
		return err
	}
	if _, err := s.store.ApplyTelemetry(t); err != nil {
		if errors.Is(err, state.ErrOutOfRange) {
			s.logger.Debug("telemetry sample rejected", "error", err)
		}
		return err
	}
	return nil
}
