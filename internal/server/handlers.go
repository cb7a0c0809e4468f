package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/aristath/harvester/internal/database"
	"github.com/aristath/harvester/internal/harvest"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostView reports host resources
type HostView struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	Load1             float64 `json:"load1"`
	Goroutines        int     `json:"goroutines"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
}

// PoolView reports credential pool state
type PoolView struct {
	Size   int            `json:"size"`
	Cursor int            `json:"cursor"`
	Usage  map[string]int `json:"requests_today,omitempty"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Runner   RunnerView      `json:"runner"`
	Pool     *PoolView       `json:"pool,omitempty"`
	Stored   map[string]int  `json:"stored,omitempty"`
	Database *database.Stats `json:"database,omitempty"`
	Host     HostView        `json:"host"`
}

// handleHealth returns 200 when the database answers its integrity check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "harvester",
	}

	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.cfg.DB.HealthCheck(ctx); err != nil {
			response["status"] = "unhealthy"
			response["error"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleStatus reports harvest progress, pool state and storage counts
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Runner: RunnerView{Last: []SweepView{}},
		Host:   s.hostStats(),
	}

	if s.cfg.Runner != nil {
		resp.Runner = runnerView(s.cfg.Runner.Status())
	}
	if s.cfg.NextRun != nil {
		if next := s.cfg.NextRun(); !next.IsZero() {
			resp.Runner.NextRun = &next
		}
	}
	if s.cfg.Pool != nil {
		resp.Pool = &PoolView{Size: s.cfg.Pool.Size(), Cursor: s.cfg.Pool.Cursor()}
		if s.cfg.Usage != nil {
			resp.Pool.Usage = s.cfg.Usage()
		}
	}
	if s.cfg.Store != nil {
		counts, err := s.cfg.Store.CountAll(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to count stored records")
		} else {
			resp.Stored = countsView(counts)
		}
	}
	if s.cfg.DB != nil {
		stats, err := s.cfg.DB.GetStats()
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read database stats")
		} else {
			resp.Database = stats
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSweeps lists recent sweep runs from the sweep log
// GET /api/sweeps?limit=20
func (s *Server) handleSweeps(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "sweep log not available")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	runs, err := s.cfg.Store.RecentSweeps(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read sweep log")
		s.writeError(w, http.StatusInternalServerError, "failed to read sweep log")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sweeps": runs})
}

// handleTriggerHarvest starts a harvest in the background
// POST /api/harvest
func (s *Server) handleTriggerHarvest(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Runner == nil {
		s.writeError(w, http.StatusServiceUnavailable, "harvest runner not available")
		return
	}
	if s.cfg.Runner.Running() {
		s.writeError(w, http.StatusConflict, harvest.ErrAlreadyRunning.Error())
		return
	}

	s.log.Info().Msg("Manual harvest triggered")
	go func() {
		_, err := s.cfg.Runner.Run(s.ctx)
		switch {
		case err == nil:
		case errors.Is(err, harvest.ErrAlreadyRunning):
			s.log.Info().Msg("Harvest already in progress")
		case errors.Is(err, context.Canceled):
			s.log.Info().Msg("Manual harvest interrupted")
		default:
			s.log.Error().Err(err).Msg("Manual harvest failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) hostStats() HostView {
	v := HostView{
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to get memory statistics")
	} else {
		v.MemoryUsedPercent = memStat.UsedPercent
	}
	if avg, err := load.Avg(); err != nil {
		s.log.Debug().Err(err).Msg("Failed to get load average")
	} else {
		v.Load1 = avg.Load1
	}

	return v
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
