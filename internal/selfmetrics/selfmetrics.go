// Package selfmetrics collects host resource usage for the metadata sent at
// registration. It completes the teacher's stubbed metrics.Collect (which
// returned zero values pending a gopsutil wire-up) using
// github.com/shirou/gopsutil/v4, the library already present in the
// teacher's dependency set for exactly this purpose.
//
// Unlike the teacher's periodic heartbeat, this client has no recurring
// heartbeat payload of its own — the spec's registration handshake is the
// only place host metadata travels, so Collect is called once per
// connect/reconnect rather than on a ticker.
package selfmetrics

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultTimeout bounds the whole collection pass; a slow or sandboxed host
// should never delay registration indefinitely.
const DefaultTimeout = 3 * time.Second

// Snapshot is the host/process metadata sent in registration's
// metadata.packageMetadata.host field.
type Snapshot struct {
	OS           string  `json:"os"`
	Arch         string  `json:"arch"`
	GoVersion    string  `json:"goVersion"`
	NumCPU       int     `json:"numCpu"`
	CPUPercent   float64 `json:"cpuPercent"`
	MemPercent   float64 `json:"memPercent"`
	PID          int32   `json:"pid"`
	ProcessRSSMB float64 `json:"processRssMb"`
	Hostname     string  `json:"hostname"`
	Uptime       uint64  `json:"uptimeSeconds"`
}

// Collect gathers a best-effort snapshot of host and process resource
// usage. Any individual probe that fails leaves its field at the zero
// value rather than aborting the whole snapshot — host metadata is
// informational, never required for registration to succeed.
func Collect() *Snapshot {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	snap := &Snapshot{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		NumCPU:    runtime.NumCPU(),
		PID:       int32(os.Getpid()),
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemPercent = vm.UsedPercent
	}

	if hostname, err := os.Hostname(); err == nil {
		snap.Hostname = hostname
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Uptime = info.Uptime
	}

	if proc, err := process.NewProcessWithContext(ctx, snap.PID); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			snap.ProcessRSSMB = float64(mi.RSS) / (1024 * 1024)
		}
	}

	return snap
}
