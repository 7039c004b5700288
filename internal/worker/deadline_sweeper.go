package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/service"
)

// Sweeper runs one proactive deadline pass.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// DeadlineSweeper closes overdue sessions on a fixed interval, so attempts
// nobody touches again still end on time.
type DeadlineSweeper struct {
	engine   Sweeper
	interval time.Duration
	log      zerolog.Logger
}

// NewDeadlineSweeper creates a new DeadlineSweeper.
func NewDeadlineSweeper(engine Sweeper, interval time.Duration, log zerolog.Logger) *DeadlineSweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeadlineSweeper{
		engine:   engine,
		interval: interval,
		log:      log.With().Str("component", "deadline_sweeper").Logger(),
	}
}

// Start ticks until ctx is cancelled. Call in a goroutine.
func (s *DeadlineSweeper) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Sweeper started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *DeadlineSweeper) runOnce(ctx context.Context) service.SweepReport {
	report, err := s.engine.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error().Err(err).Msg("Sweep failed")
		}
		return report
	}

	if report.Scanned > 0 {
		s.log.Info().
			Int("scanned", report.Scanned).
			Int("submitted", report.Submitted).
			Int("expired", report.Expired).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("Sweep finished")
	}
	return report
}
