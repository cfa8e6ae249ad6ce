package workers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/akila/mesh-simplifier/metrics"
	"github.com/akila/mesh-simplifier/workspace"
	"go.uber.org/zap"
)

type ReaperConfig struct {
	Dir string
	// TTL is how old an artifact must be before it is removed.
	TTL      time.Duration
	Interval time.Duration
}

// SweepStats summarises one pass over the workspace.
type SweepStats struct {
	Scanned int
	Removed int
	Failed  int
}

// Reaper deletes workspace artifacts that outlived their TTL. Outputs are
// never removed on the request path, so this is what keeps the workspace
// from growing without bound.
type Reaper struct {
	cfg     ReaperConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewReaper(cfg ReaperConfig, collector *metrics.Collector, logger *zap.Logger) *Reaper {
	return &Reaper{
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "reaper")),
	}
}

// Start sweeps every Interval until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()

		r.logger.Info("reaper started",
			zap.String("dir", r.cfg.Dir),
			zap.Duration("ttl", r.cfg.TTL),
			zap.Duration("interval", r.cfg.Interval))

		for {
			select {
			case <-ctx.Done():
				r.logger.Info("reaper stopped")
				return
			case now := <-ticker.C:
				if _, err := r.Sweep(now); err != nil {
					r.logger.Warn("sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Wait blocks until the goroutine started by Start returns.
func (r *Reaper) Wait() {
	r.wg.Wait()
}

// Sweep removes every artifact last modified before now-TTL. Files that do not
// look like workspace artifacts are left alone.
func (r *Reaper) Sweep(now time.Time) (SweepStats, error) {
	var stats SweepStats

	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return stats, nil
		}
		return stats, fmt.Errorf("failed to read workspace %s: %w", r.cfg.Dir, err)
	}

	cutoff := now.Add(-r.cfg.TTL)
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !workspace.IsArtifact(entry.Name()) {
			continue
		}
		stats.Scanned++

		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(r.cfg.Dir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			stats.Failed++
			r.logger.Warn("failed to remove expired artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		stats.Removed++
		r.logger.Debug("removed expired artifact", zap.String("path", path))
	}

	r.metrics.RecordReap(stats.Removed, stats.Failed)
	if stats.Removed > 0 || stats.Failed > 0 {
		r.logger.Info("sweep finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("removed", stats.Removed),
			zap.Int("failed", stats.Failed))
	}
	return stats, nil
}
