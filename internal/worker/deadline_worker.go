package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
)

// Sweeper auto-submits overdue sessions.
type Sweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// DeadlineWorker periodically submits sessions past their deadline. The
// lazy check on every interaction stays authoritative; this only closes
// sessions whose clients went away.
type DeadlineWorker struct {
	sweeper  Sweeper
	interval time.Duration
	batch    int
	log      zerolog.Logger
}

func NewDeadlineWorker(sweeper Sweeper, interval time.Duration, batch int, log zerolog.Logger) *DeadlineWorker {
	return &DeadlineWorker{
		sweeper:  sweeper,
		interval: interval,
		batch:    batch,
		log:      logger.Component(log, "deadline_worker"),
	}
}

func (w *DeadlineWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Int("batch", w.batch).Msg("DeadlineWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("DeadlineWorker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce sweeps until a pass returns less than a full batch.
func (w *DeadlineWorker) RunOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := w.sweeper.SweepExpired(ctx, w.batch)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Deadline sweep failed")
			}
			return total
		}
		total += n
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		w.log.Info().Int("count", total).Msg("Auto-submitted overdue sessions")
	}
	return total
}
