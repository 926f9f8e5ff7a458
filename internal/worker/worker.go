package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// UniverseSource reloads the universe list from the test server.
type UniverseSource interface {
	RefreshUniverses(ctx context.Context) error
}

// LogPruner drops expired run logs.
type LogPruner interface {
	Prune() (int, error)
}

// Worker keeps the console state fresh while the HTTP console is running.
type Worker struct {
	universes UniverseSource
	logs      LogPruner
	interval  time.Duration
	logger    zerolog.Logger
}

func NewWorker(universes UniverseSource, logs LogPruner, interval time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		universes: universes,
		logs:      logs,
		interval:  interval,
		logger:    logger,
	}
}

// Start ticks until ctx is done. A zero interval disables the worker.
func (w *Worker) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Debug().Msg("Background refresh disabled")
		return
	}
	w.logger.Info().Dur("interval", w.interval).Msg("Starting background refresh")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping background refresh")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if err := w.universes.RefreshUniverses(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("Worker: failed to refresh universes")
	}

	if w.logs == nil {
		return
	}
	removed, err := w.logs.Prune()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Worker: failed to prune run logs")
		return
	}
	if removed > 0 {
		w.logger.Debug().Int("removed", removed).Msg("Worker: pruned run logs")
	}
}
