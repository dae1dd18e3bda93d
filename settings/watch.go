package settings

import (
	"context"
	"sync/atomic"
	"time"
)

// VersionSource reports a token that changes when stored settings change.
type VersionSource interface {
	Version(ctx context.Context) (int64, error)
}

// WatchStats are point-in-time counters of a Watch loop.
type WatchStats struct {
	Checks  int64 `json:"checks"`
	Reloads int64 `json:"reloads"`
	Errors  int64 `json:"errors"`
}

type watchCounters struct {
	checks, reloads, errors atomic.Int64
}

// Watch reloads the settings whenever src reports a new version, until ctx
// is cancelled. It lets another process (or the HTTP surface of another
// instance) change settings without a restart.
func (m *Manager) Watch(ctx context.Context, src VersionSource, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	log := m.logger

	last, err := src.Version(ctx)
	if err != nil {
		log.Warn("settings: initial version check failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("settings: watching store", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.watch.checks.Add(1)
			cur, err := src.Version(ctx)
			if err != nil {
				m.watch.errors.Add(1)
				log.Warn("settings: version check failed", "error", err)
				continue
			}
			if cur == last {
				continue
			}
			if _, err := m.Load(ctx); err != nil {
				m.watch.errors.Add(1)
				log.Error("settings: reload failed", "error", err)
				continue
			}
			m.watch.reloads.Add(1)
			log.Info("settings: reloaded", "version", cur)
			last = cur
		}
	}
}

// WatchStats returns the counters of the Watch loop.
func (m *Manager) WatchStats() WatchStats {
	return WatchStats{
		Checks:  m.watch.checks.Load(),
		Reloads: m.watch.reloads.Load(),
		Errors:  m.watch.errors.Load(),
	}
}
