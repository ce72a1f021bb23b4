package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/jmylchreest/tvarr-player/internal/coordinator"
	"github.com/jmylchreest/tvarr-player/internal/models"
)

// HealthHandler reports service and playback health.
type HealthHandler struct {
	version   string
	startTime time.Time
	coord     *coordinator.Coordinator
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, coord *coordinator.Coordinator) *HealthHandler {
	return &HealthHandler{version: version, startTime: time.Now(), coord: coord}
}

// HealthInput is the input for the health check.
type HealthInput struct{}

// HealthOutput wraps HealthResponse.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	CPU           CPUInfo        `json:"cpu"`
	Memory        MemoryInfo     `json:"memory"`
	Playback      PlaybackHealth `json:"playback"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory in MB.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessRSSMB      float64 `json:"process_rss_mb"`
	Goroutines        int     `json:"goroutines"`
}

// PlaybackHealth summarizes the single-live-handle rule.
type PlaybackHealth struct {
	Status      string                    `json:"status"`
	LiveHandles map[models.Surface]string `json:"live_handles"`
	Violation   string                    `json:"violation,omitempty"`
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ProbeOutput is returned by the liveness and readiness probes.
type ProbeOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components,omitempty"`
	}
}

// Register registers the health routes.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health, system metrics and the live playback handles",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status. A broken playback invariant marks
// the service degraded.
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	playback := PlaybackHealth{Status: "ok"}
	status := "healthy"
	if h.coord != nil {
		playback.LiveHandles = h.coord.Ledger().Live()
		if err := h.coord.CheckInvariants(); err != nil {
			playback.Status = "violated"
			playback.Violation = err.Error()
			status = "degraded"
		}
	}

	return &HealthOutput{Body: HealthResponse{
		Status:        status,
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           cpuInfo(),
		Memory:        memoryInfo(),
		Playback:      playback,
	}}, nil
}

// GetLivez reports that the process is serving.
func (h *HealthHandler) GetLivez(_ context.Context, _ *LivezInput) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the coordinator can accept playback requests.
func (h *HealthHandler) GetReadyz(_ context.Context, _ *ReadyzInput) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Components = map[string]string{}
	if h.coord == nil {
		out.Body.Status = "not_ready"
		out.Body.Components["coordinator"] = "not_configured"
		return out, nil
	}
	out.Body.Status = "ready"
	out.Body.Components["coordinator"] = "ok"
	out.Body.Components["playback"] = "ok"
	if err := h.coord.CheckInvariants(); err != nil {
		out.Body.Status = "not_ready"
		out.Body.Components["playback"] = "violated"
	}
	return out, nil
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	avg, err := load.Avg()
	if err != nil || avg == nil {
		return info
	}
	info.Load1Min = avg.Load1
	info.Load5Min = avg.Load5
	info.Load15Min = avg.Load15
	if info.Cores > 0 {
		info.LoadPercentage1Min = avg.Load1 / float64(info.Cores) * 100
	}
	return info
}

func memoryInfo() MemoryInfo {
	const mb = 1024 * 1024
	info := MemoryInfo{Goroutines: runtime.NumGoroutine()}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = float64(vm.Total) / mb
		info.UsedMemoryMB = float64(vm.Used) / mb
		info.AvailableMemoryMB = float64(vm.Available) / mb
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if m, err := proc.MemoryInfo(); err == nil && m != nil {
			info.ProcessRSSMB = float64(m.RSS) / mb
		}
	}
	return info
}
