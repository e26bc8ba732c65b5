package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/pitmetrics/internal/database"
	"github.com/aristath/pitmetrics/internal/reliability"
	"github.com/aristath/pitmetrics/internal/scheduler"
)

// Backuper creates a backup on demand
type Backuper interface {
	CreateAndUpload(ctx context.Context) (*reliability.BackupInfo, error)
}

// JobReporter reports the run history of background jobs
type JobReporter interface {
	Jobs() []scheduler.JobStatus
}

// SystemHandlers serves system monitoring and operations
type SystemHandlers struct {
	log       zerolog.Logger
	backup    Backuper
	jobs      JobReporter
	databases []*database.DB
	startedAt time.Time
}

// NewSystemHandlers creates new system handlers. backup and jobs may be nil;
// nil databases are skipped.
func NewSystemHandlers(log zerolog.Logger, backup Backuper, jobs JobReporter, databases ...*database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		backup:    backup,
		jobs:      jobs,
		databases: databases,
		startedAt: time.Now(),
	}
}

// SystemStatsResponse is the body of GET /api/system/stats
type SystemStatsResponse struct {
	CPUPercent    float64                    `json:"cpu_percent"`
	MemoryPercent float64                    `json:"memory_percent"`
	Goroutines    int                        `json:"goroutines"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Databases     map[string]*database.Stats `json:"databases"`
	Jobs          []scheduler.JobStatus      `json:"jobs"`
}

// HandleSystemStats handles GET /api/system/stats
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatsResponse{
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Databases:     make(map[string]*database.Stats),
		Jobs:          []scheduler.JobStatus{},
	}
	if h.jobs != nil {
		response.Jobs = h.jobs.Jobs()
	}

	for _, db := range h.databases {
		if db == nil {
			continue
		}
		stats, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		response.Databases[db.Name()] = stats
	}

	writeJSON(h.log, w, http.StatusOK, response)
}

// getSystemStats returns CPU and memory usage percentages.
// CPU is sampled over 100ms to keep the call fast.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// HandleTriggerBackup handles POST /api/system/backup
func (h *SystemHandlers) HandleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if h.backup == nil {
		writeJSON(h.log, w, http.StatusServiceUnavailable, map[string]string{
			"error": "Backups are not configured",
		})
		return
	}

	info, err := h.backup.CreateAndUpload(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		writeJSON(h.log, w, http.StatusInternalServerError, map[string]string{
			"error": "Backup failed",
		})
		return
	}

	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"data": info,
	})
}
