package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// procStats periodically samples this process's CPU and memory so the health
// endpoint answers without doing IO inline.
type procStats struct {
	mu         sync.RWMutex
	cpuPercent float64
	rssBytes   uint64
	startedAt  time.Time
}

func newProcStats() *procStats {
	return &procStats{startedAt: time.Now()}
}

func (p *procStats) run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cpu, err := proc.CPUPercent(); err == nil {
				p.mu.Lock()
				p.cpuPercent = cpu
				p.mu.Unlock()
			}
			if mem, err := proc.MemoryInfo(); err == nil {
				p.mu.Lock()
				p.rssBytes = mem.RSS
				p.mu.Unlock()
			}
		}
	}
}

func (p *procStats) snapshot() (cpu float64, rss uint64, uptime time.Duration) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cpuPercent, p.rssBytes, time.Since(p.startedAt)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpu, rss, uptime := s.stats.snapshot()

	status := "healthy"
	code := http.StatusOK
	if s.shuttingDown.Load() {
		status = "draining"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"process_id":     s.cfg.ProcessID,
		"uptime_seconds": uptime.Seconds(),
		"sessions":       s.hub.Registry().Len(),
		"rooms":          s.hub.Rooms().Count(),
		"cpu_percent":    cpu,
		"memory_bytes":   rss,
		"goroutines":     runtime.NumGoroutine(),
	})
}
