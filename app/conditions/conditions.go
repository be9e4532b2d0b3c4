// Package conditions gates new submissions on host health metrics. Image
// generation is heavy, a struggling host is better off rejecting before the
// execution server gets involved.
package conditions

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Config holds the thresholds, nil values disable a check.
type Config struct {
	CPUBelow      *int     // percent
	MemoryBelow   *int     // percent
	LoadAvgBelow  *float64 // 1 minute load average
	DiskFreeAbove *int     // percent free
	DiskFreePath  string   // defaults to /
}

// Empty reports whether no condition is configured.
func (c Config) Empty() bool {
	return c.CPUBelow == nil && c.MemoryBelow == nil && c.LoadAvgBelow == nil && c.DiskFreeAbove == nil
}

// Checker verifies host conditions before a submission is admitted.
// Implements the admission guard contract.
type Checker struct {
	cfg         Config
	cpuInterval time.Duration
}

// NewChecker makes a checker for the given thresholds, nil when nothing is
// configured so the caller can skip the guard entirely.
func NewChecker(cfg Config) *Checker {
	if cfg.Empty() {
		return nil
	}
	return &Checker{cfg: cfg, cpuInterval: time.Second}
}

// Check verifies all configured conditions, first failed one wins.
func (c *Checker) Check() (ok bool, reason string) {
	if c.cfg.CPUBelow != nil {
		if ok, reason := c.checkCPU(*c.cfg.CPUBelow); !ok {
			return false, reason
		}
	}
	if c.cfg.MemoryBelow != nil {
		if ok, reason := checkMemory(*c.cfg.MemoryBelow); !ok {
			return false, reason
		}
	}
	if c.cfg.LoadAvgBelow != nil {
		if ok, reason := checkLoadAvg(*c.cfg.LoadAvgBelow); !ok {
			return false, reason
		}
	}
	if c.cfg.DiskFreeAbove != nil {
		path := c.cfg.DiskFreePath
		if path == "" {
			path = "/"
		}
		if ok, reason := checkDiskFree(*c.cfg.DiskFreeAbove, path); !ok {
			return false, reason
		}
	}
	return true, ""
}

func (c *Checker) checkCPU(threshold int) (bool, string) {
	cpuPercent, err := cpu.Percent(c.cpuInterval, false)
	if err != nil {
		return false, fmt.Sprintf("failed to get CPU: %v", err)
	}
	if len(cpuPercent) == 0 {
		return false, "no CPU data available"
	}
	current := int(cpuPercent[0])
	if current >= threshold {
		return false, fmt.Sprintf("CPU at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func checkMemory(threshold int) (bool, string) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

func checkLoadAvg(threshold float64) (bool, string) {
	loads, err := load.Avg()
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}

func checkDiskFree(minFreePercent int, path string) (bool, string) {
	usage, err := disk.Usage(path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	freePercent := 100 - int(usage.UsedPercent)
	if freePercent < minFreePercent {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", freePercent, minFreePercent, path)
	}
	return true, ""
}
