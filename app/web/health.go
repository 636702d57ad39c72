package web

import (
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/umputun/arbor/app/jobs"
)

// healthResponse is the JSON response for /health
type healthResponse struct {
	Status  string              `json:"status"`
	Version string              `json:"version"`
	Uptime  float64             `json:"uptime_seconds"`
	Jobs    map[jobs.Status]int `json:"jobs"`
	Host    hostInfo            `json:"host"`
}

// hostInfo has load and memory of the host, fields are zero if not available on the platform
type hostInfo struct {
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	MemTotal       uint64  `json:"mem_total"`
	MemAvailable   uint64  `json:"mem_available"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.Version,
		Uptime:  time.Since(s.startedAt).Round(time.Second).Seconds(),
		Jobs:    s.Jobs.Counts(),
	}

	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		resp.Host.Load1, resp.Host.Load5, resp.Host.Load15 = avg.Load1, avg.Load5, avg.Load15
	} else {
		log.Printf("[DEBUG] can't get load average, %v", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.Host.MemTotal, resp.Host.MemAvailable, resp.Host.MemUsedPercent = vm.Total, vm.Available, vm.UsedPercent
	} else {
		log.Printf("[DEBUG] can't get memory stats, %v", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}
