package httpapi

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/the-pines/frog/internal/httputil"
)

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.log.WithContext(r.Context()).WithError(err).Warn("health check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type processInfo struct {
	PID        int     `json:"pid"`
	RSSBytes   uint64  `json:"rssBytes"`
	CPUPercent float64 `json:"cpuPercent"`
	Goroutines int     `json:"goroutines"`
}

type infoResponse struct {
	Uptime   string      `json:"uptime"`
	Executor string      `json:"executor"`
	ChainID  string      `json:"chainId"`
	Process  processInfo `json:"process"`
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	resp := infoResponse{
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Executor: h.app.Chain.Executor().Hex(),
		ChainID:  h.app.Chain.ChainID().String(),
		Process: processInfo{
			PID:        os.Getpid(),
			Goroutines: runtime.NumGoroutine(),
		},
	}

	// Process stats are best-effort; some platforms do not expose them.
	if p, err := process.NewProcessWithContext(r.Context(), int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfoWithContext(r.Context()); err == nil {
			resp.Process.RSSBytes = mem.RSS
		}
		if cpu, err := p.CPUPercentWithContext(r.Context()); err == nil {
			resp.Process.CPUPercent = cpu
		}
	} else {
		h.log.WithContext(r.Context()).WithError(err).Debug("process stats unavailable")
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
