package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SessionCounter reports how many sessions are held in memory
type SessionCounter interface {
	Count() int
}

// SystemHandler reports process and host health
type SystemHandler struct {
	sessions   SessionCounter
	memPercent float64
	startedAt  time.Time
}

// NewSystemHandler creates a handler; memPercent is the watchdog pressure threshold
func NewSystemHandler(sessions SessionCounter, memPercent float64) *SystemHandler {
	return &SystemHandler{
		sessions:   sessions,
		memPercent: memPercent,
		startedAt:  time.Now(),
	}
}

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent      float64 `json:"cpu_percent"`
	RAMUsedGB       float64 `json:"ram_used_gb"`
	RAMTotalGB      float64 `json:"ram_total_gb"`
	RAMPercent      float64 `json:"ram_percent"`
	GoroutinesCount int     `json:"goroutines_count"`
	ActiveSessions  int     `json:"active_sessions"`
	MemoryPressure  bool    `json:"memory_pressure"`
	MemoryThreshold float64 `json:"memory_threshold"`
	Uptime          string  `json:"uptime"`
}

// GetSystemMetrics handles GET /api/system/metrics
func (h *SystemHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage sampled over 200ms
	var cpuPercent float64
	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = float64(memStat.Used) / 1024 / 1024 / 1024
		ramTotalGB = float64(memStat.Total) / 1024 / 1024 / 1024
		ramPercent = memStat.UsedPercent
	} else {
		slog.Warn("Memory stats unavailable", "error", err)
	}

	response := SystemMetricsResponse{
		CPUPercent:      roundTo2Decimals(cpuPercent),
		RAMUsedGB:       roundTo2Decimals(ramUsedGB),
		RAMTotalGB:      roundTo2Decimals(ramTotalGB),
		RAMPercent:      roundTo2Decimals(ramPercent),
		GoroutinesCount: runtime.NumGoroutine(),
		ActiveSessions:  h.sessions.Count(),
		MemoryPressure:  h.memPercent > 0 && ramPercent >= h.memPercent,
		MemoryThreshold: h.memPercent,
		Uptime:          formatDuration(time.Since(h.startedAt)),
	}

	writeJSON(w, http.StatusOK, NewSuccessResponse(response))
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
