package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/eegstreamd/internal/errors"
	"codeberg.org/mutker/eegstreamd/internal/logger"
)

// recorder persists status-tick snapshots through a Repository.
type recorder struct {
	repo Repository
	log  logger.Logger
	now  func() time.Time
}

type noopCollector struct{}

// NewService returns the Collector the pipeline records its status ticks
// through. A disabled config yields a Collector that stores nothing.
func NewService(cfg Config) (Collector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.New().Wrap(ErrInvalidConfig, err)
	}

	log := logger.With("metrics")
	if !cfg.Enabled {
		log.Debug().Msg("Stream history disabled")
		return noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &recorder{repo: repo, log: log, now: time.Now}, nil
}

// Record stores snapshot, stamping it with the current time when the caller
// left Timestamp unset.
func (r *recorder) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidMetrics)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrOperationTimeout, err)
	}

	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = r.now()
	}
	if err := r.repo.Record(snapshot); err != nil {
		return errFactory.Wrap(ErrMetricsCollection, err)
	}

	return nil
}

func (r *recorder) Close() error {
	if err := r.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	r.log.Debug().Msg("Stream history closed")
	return nil
}

func (noopCollector) Record(context.Context, *Snapshot) error { return nil }

func (noopCollector) Close() error { return nil }
