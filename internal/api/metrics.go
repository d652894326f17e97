package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-cloudlink/internal/cloudlink"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Links         LinkMetrics        `json:"links"`
	Bridge        cloudlink.Counters `json:"bridge"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// LinkMetrics counts connection attempts per link.
type LinkMetrics struct {
	LocalConnects uint64 `json:"local_connects"`
	CloudConnects uint64 `json:"cloud_connects"`
}

// handleMetrics returns runtime statistics and bridge counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.status.Status()

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Links: LinkMetrics{
			LocalConnects: st.Local.Connects,
			CloudConnects: st.Cloud.Connects,
		},
		Bridge: st.Counters,
	})
}
