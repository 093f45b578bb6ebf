package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// WatchdogConfig controls session eviction
type WatchdogConfig struct {
	Interval   time.Duration
	IdleLimit  time.Duration
	MemPercent float64 // at or above this, the idle limit is halved
}

// Watchdog evicts ended and idle sessions so memory stays bounded.
// Transcript state is in-memory only; eviction is how it gets cleared.
type Watchdog struct {
	manager  *SessionManager
	cfg      WatchdogConfig
	memUsage func() (float64, error)
	now      func() time.Time
}

// NewWatchdog creates a watchdog reading memory usage through gopsutil
func NewWatchdog(manager *SessionManager, cfg WatchdogConfig) *Watchdog {
	return &Watchdog{
		manager:  manager,
		cfg:      cfg,
		memUsage: virtualMemoryPercent,
		now:      time.Now,
	}
}

func virtualMemoryPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// Run sweeps every interval until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.Info("[WATCHDOG] Service started",
		"interval", w.cfg.Interval,
		"idle_limit", w.cfg.IdleLimit,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[WATCHDOG] Stopped")
			return
		case <-ticker.C:
			w.sweepSafely()
		}
	}
}

func (w *Watchdog) sweepSafely() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("PANIC recovered in watchdog sweep", "panic", r)
		}
	}()
	w.Sweep()
}

// Sweep evicts sessions once and returns how many were removed
func (w *Watchdog) Sweep() int {
	idleLimit := w.cfg.IdleLimit

	used, err := w.memUsage()
	if err != nil {
		slog.Warn("[WATCHDOG] Memory check failed", "error", err)
	} else if w.cfg.MemPercent > 0 && used >= w.cfg.MemPercent {
		idleLimit /= 2
		slog.Warn("[WATCHDOG] Memory pressure, tightening idle limit",
			"used_percent", used,
			"idle_limit", idleLimit,
		)
	}

	now := w.now()
	evicted := w.manager.evictWhere(func(s *Session) bool {
		if s.isEnded() {
			return true
		}
		return idleLimit > 0 && now.Sub(s.idleSince()) >= idleLimit
	})

	if len(evicted) > 0 {
		slog.Info("[WATCHDOG] Evicted sessions",
			"count", len(evicted),
			"remaining", w.manager.Count(),
		)
	}
	return len(evicted)
}
