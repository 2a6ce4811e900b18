// Package janitor periodically removes image files that no history entry
// references. Deletions normally clean up after themselves; this catches
// blobs left behind by a crash between the record delete and the file
// delete.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval between sweeps.
const DefaultInterval = 6 * time.Hour

// Sweeper removes unreferenced blobs and reports how many it removed.
type Sweeper interface {
	SweepOrphans(ctx context.Context) (int, error)
}

// Config holds configuration for the janitor
type Config struct {
	Interval time.Duration
}

// Janitor runs Sweeper on a ticker.
type Janitor struct {
	sweeper Sweeper
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	interval time.Duration
	lastRun  time.Time
	removed  int
}

// New creates a janitor.
func New(sweeper Sweeper, config Config) (*Janitor, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("sweeper is required")
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Interval < 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got: %v", config.Interval)
	}

	return &Janitor{
		sweeper:  sweeper,
		interval: config.Interval,
		ticker:   time.NewTicker(config.Interval),
		done:     make(chan struct{}),
	}, nil
}

// Start sweeps once and then on every tick until ctx ends or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	slog.Info("starting janitor", "interval", j.Interval())

	j.sweep(ctx)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("janitor stopped (context done)")
				return
			case <-j.done:
				slog.Debug("janitor stopped (done signal)")
				return
			case <-j.ticker.C:
				j.sweep(ctx)
			}
		}
	}()

	return nil
}

// Stop stops the janitor and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.ticker.Stop()
	select {
	case <-j.done:
		// Already closed
	default:
		close(j.done)
	}
	j.wg.Wait()
}

// UpdateInterval changes the sweep interval while the janitor is running
func (j *Janitor) UpdateInterval(interval time.Duration) {
	if interval <= 0 {
		slog.Warn("ignoring non-positive sweep interval", "interval", interval)
		return
	}
	j.mu.Lock()
	j.interval = interval
	j.mu.Unlock()
	j.ticker.Reset(interval)
	slog.Info("updated janitor interval", "interval", interval)
}

// Interval returns the current sweep interval.
func (j *Janitor) Interval() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.interval
}

// Stats reports the last sweep time and the total number of blobs removed.
func (j *Janitor) Stats() (lastRun time.Time, removed int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun, j.removed
}

func (j *Janitor) sweep(ctx context.Context) {
	n, err := j.sweeper.SweepOrphans(ctx)

	j.mu.Lock()
	j.lastRun = time.Now()
	j.removed += n
	j.mu.Unlock()

	if err != nil {
		slog.Error("orphan sweep failed", "removed", n, "err", err)
		return
	}
	if n > 0 {
		slog.Info("removed orphaned images", "count", n)
	}
}
