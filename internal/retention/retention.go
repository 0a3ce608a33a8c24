package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/plume-agent/plume/internal/config"
)

// LedgerPruner deletes ledger rows past the retention horizon.
type LedgerPruner interface {
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// MemoryPruner deletes memory records past the retention horizon.
type MemoryPruner interface {
	PruneOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Runner applies the retention policy at the start of an invocation.
// Pruning is housekeeping: failures are logged, never fatal.
type Runner struct {
	cfg    config.RetentionConfig
	ledger LedgerPruner
	memory MemoryPruner
	logger *slog.Logger
}

func NewRunner(cfg config.RetentionConfig, ledger LedgerPruner, memory MemoryPruner, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		ledger: ledger,
		memory: memory,
		logger: logger.With(slog.String("component", "retention")),
	}
}

// Run prunes both stores. A zero age disables pruning for that store.
func (r *Runner) Run(ctx context.Context) {
	if r.cfg.LedgerAge > 0 {
		n, err := r.ledger.PruneOlderThan(ctx, r.cfg.LedgerAge)
		if err != nil {
			r.logger.Warn("pruning ledger failed", slog.Any("error", err))
		} else if n > 0 {
			r.logger.Info("pruned ledger rows", slog.Int64("deleted", n))
		}
	}
	if r.cfg.MemoryAge > 0 {
		n, err := r.memory.PruneOlderThan(ctx, r.cfg.MemoryAge)
		if err != nil {
			r.logger.Warn("pruning memory failed", slog.Any("error", err))
		} else if n > 0 {
			r.logger.Info("pruned memory records", slog.Int64("deleted", n))
		}
	}
}
