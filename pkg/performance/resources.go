// Package performance samples the resource usage of the running process.
package performance

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/clinical-etl/pkg/errors"
)

// ResourceMonitor samples the current process.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
	mu           sync.Mutex
	peakRSS      uint64
}

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	RSS                   uint64  `json:"rss_bytes"`
	PeakRSS               uint64  `json:"peak_rss_bytes"`
	VMS                   uint64  `json:"vms_bytes"`
	CPUPercent            float64 `json:"cpu_percent"`
	SystemMemoryPercent   float64 `json:"system_memory_percent,omitempty"`
	SystemMemoryAvailable uint64  `json:"system_memory_available,omitempty"`
	Goroutines            int     `json:"goroutines"`
}

// NewResourceMonitor creates a monitor for the current process.
func NewResourceMonitor() (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open process handle")
	}
	rm := &ResourceMonitor{process: proc, startTime: time.Now()}
	if cpuTime, err := proc.Times(); err == nil {
		rm.startCPUTime = cpuTime.Total()
	}
	return rm, nil
}

// Usage samples the process. Only the RSS is mandatory; the CPU and system
// memory figures are left at zero on platforms that cannot report them.
func (rm *ResourceMonitor) Usage() (ResourceUsage, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var usage ResourceUsage
	memInfo, err := rm.process.MemoryInfo()
	if err != nil {
		return usage, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read process memory")
	}
	usage.RSS = memInfo.RSS
	usage.VMS = memInfo.VMS
	if usage.RSS > rm.peakRSS {
		rm.peakRSS = usage.RSS
	}
	usage.PeakRSS = rm.peakRSS

	if cpuTime, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = (cpuTime.Total() - rm.startCPUTime) / elapsed * 100
		}
	}

	if vmStat, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vmStat.UsedPercent
		usage.SystemMemoryAvailable = vmStat.Available
	}

	usage.Goroutines = runtime.NumGoroutine()
	return usage, nil
}

// ResidentBytes returns the current RSS, or 0 when it cannot be read.
func (rm *ResourceMonitor) ResidentBytes() uint64 {
	usage, err := rm.Usage()
	if err != nil {
		return 0
	}
	return usage.RSS
}
