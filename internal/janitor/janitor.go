// Package janitor periodically removes payload files that no item refers to.
package janitor

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/azzuriel/clipman/internal/logging"
)

// Index lists the payload files that are still referenced.
type Index interface {
	FilePaths(ctx context.Context) (map[string]bool, error)
}

// Store deletes unreferenced files.
type Store interface {
	Cleanup(keep map[string]bool, minAge time.Duration) (int, int64, error)
}

// Config holds janitor settings.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// MinAge protects files written moments ago whose item is not indexed yet.
	MinAge time.Duration
}

// DefaultConfig returns the default settings.
func DefaultConfig() *Config {
	return &Config{
		Interval: time.Hour,
		MinAge:   10 * time.Minute,
	}
}

// Janitor runs sweeps in the background.
type Janitor struct {
	index    Index
	store    Store
	interval time.Duration
	minAge   time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	sweeping  bool
}

// New creates a Janitor. A nil config uses DefaultConfig.
func New(index Index, store Store, config *Config) *Janitor {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MinAge < 0 {
		config.MinAge = defaults.MinAge
	}

	return &Janitor{
		index:    index,
		store:    store,
		interval: config.Interval,
		minAge:   config.MinAge,
	}
}

// Start begins the periodic sweep. Calling Start twice does nothing; a
// stopped Janitor can be started again.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	if j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = true
	stopCh := make(chan struct{})
	j.stopCh = stopCh
	j.mu.Unlock()

	j.wg.Add(1)
	go j.loop(ctx, stopCh)

	logging.Info("Storage janitor started", map[string]interface{}{
		"interval": j.interval.String(),
	})
}

// Stop ends the loop and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.isRunning {
		j.mu.Unlock()
		return
	}
	j.isRunning = false
	stopCh := j.stopCh
	j.mu.Unlock()

	close(stopCh)
	j.wg.Wait()

	logging.Info("Storage janitor stopped")
}

// IsRunning reports whether the loop is active.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.isRunning
}

func (j *Janitor) loop(ctx context.Context, stopCh <-chan struct{}) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, _, err := j.Sweep(ctx); err != nil {
				logging.Error("Storage sweep failed", err, nil)
			}
		}
	}
}

// Sweep removes unreferenced files once. Overlapping calls return
// immediately.
func (j *Janitor) Sweep(ctx context.Context) (removed int, freed int64, err error) {
	j.mu.Lock()
	if j.sweeping {
		j.mu.Unlock()
		logging.Debug("Storage sweep already in progress, skipping")
		return 0, 0, nil
	}
	j.sweeping = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.sweeping = false
		j.mu.Unlock()
	}()

	keep, err := j.index.FilePaths(ctx)
	if err != nil {
		return 0, 0, err
	}

	removed, freed, err = j.store.Cleanup(keep, j.minAge)
	if err != nil {
		return removed, freed, err
	}

	if removed > 0 {
		logging.Info("Removed orphaned payload files", map[string]interface{}{
			"files": removed,
			"freed": humanize.Bytes(uint64(freed)),
		})
	}
	return removed, freed, nil
}
