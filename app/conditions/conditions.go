// Package conditions checks host state before a triggered task is submitted
package conditions

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/go-pkgz/syncs"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/umputun/arbor/app/errs"
)

// Config defines host conditions, all set conditions must be met
type Config struct {
	CPUBelow      *int     `yaml:"cpu_below,omitempty" json:"cpu_below,omitempty" jsonschema:"minimum=1,maximum=100,description=cpu usage percent must be below"`
	MemoryBelow   *int     `yaml:"memory_below,omitempty" json:"memory_below,omitempty" jsonschema:"minimum=1,maximum=100,description=memory usage percent must be below"`
	LoadAvgBelow  *float64 `yaml:"load_avg_below,omitempty" json:"load_avg_below,omitempty" jsonschema:"description=1 minute load average must be below"`
	DiskFreeAbove *int     `yaml:"disk_free_above,omitempty" json:"disk_free_above,omitempty" jsonschema:"minimum=0,maximum=100,description=free disk percent must be above"`
	DiskFreePath  string   `yaml:"disk_free_path,omitempty" json:"disk_free_path,omitempty" jsonschema:"description=path for disk check,default=/"`
	Custom        string   `yaml:"custom,omitempty" json:"custom,omitempty" jsonschema:"description=shell command which must exit with 0"`
}

// Empty checks if no conditions set
func (c Config) Empty() bool {
	return c.CPUBelow == nil && c.MemoryBelow == nil && c.LoadAvgBelow == nil && c.DiskFreeAbove == nil && c.Custom == ""
}

// Validate checks thresholds ranges
func (c Config) Validate() error {
	percent := func(name string, v *int) error {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%s %d is out of 0..100: %w", name, *v, errs.ErrValidation)
		}
		return nil
	}
	for _, err := range []error{percent("cpu_below", c.CPUBelow), percent("memory_below", c.MemoryBelow),
		percent("disk_free_above", c.DiskFreeAbove)} {
		if err != nil {
			return err
		}
	}
	if c.LoadAvgBelow != nil && *c.LoadAvgBelow < 0 {
		return fmt.Errorf("load_avg_below %.2f is negative: %w", *c.LoadAvgBelow, errs.ErrValidation)
	}
	return nil
}

const limitReached = "condition check limit reached, wait for running checks to complete"

// Checker checks conditions with limited number of concurrent checks
type Checker struct {
	maxConcurrent int
	semaphore     syncs.Locker
	cpuSample     time.Duration
}

// NewChecker makes checker, maxConcurrent <= 0 means 10
func NewChecker(maxConcurrent int) *Checker {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Checker{maxConcurrent: maxConcurrent, semaphore: syncs.NewSemaphore(maxConcurrent), cpuSample: time.Second}
}

// Check verifies if all conditions are met.
// Returns true if conditions are satisfied, false with reason otherwise
func (c *Checker) Check(ctx context.Context, conditions Config) (bool, string) {
	if conditions.Empty() {
		return true, ""
	}
	if !c.semaphore.TryLock() {
		return false, limitReached
	}
	defer c.semaphore.Unlock()

	if conditions.CPUBelow != nil {
		if ok, reason := c.checkCPU(ctx, *conditions.CPUBelow); !ok {
			return false, reason
		}
	}
	if conditions.MemoryBelow != nil {
		if ok, reason := c.checkMemory(ctx, *conditions.MemoryBelow); !ok {
			return false, reason
		}
	}
	if conditions.LoadAvgBelow != nil {
		if ok, reason := c.checkLoadAvg(ctx, *conditions.LoadAvgBelow); !ok {
			return false, reason
		}
	}
	if conditions.DiskFreeAbove != nil {
		path := conditions.DiskFreePath
		if path == "" {
			path = "/"
		}
		if ok, reason := c.checkDiskFree(ctx, *conditions.DiskFreeAbove, path); !ok {
			return false, reason
		}
	}
	if conditions.Custom != "" {
		if ok, reason := c.checkCustom(ctx, conditions.Custom); !ok {
			return false, reason
		}
	}
	return true, ""
}

// checkCPU checks if CPU usage is below threshold
func (c *Checker) checkCPU(ctx context.Context, threshold int) (bool, string) {
	cpuPercent, err := cpu.PercentWithContext(ctx, c.cpuSample, false)
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

// checkMemory checks if memory usage is below threshold
func (c *Checker) checkMemory(ctx context.Context, threshold int) (bool, string) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return false, fmt.Sprintf("failed to get memory: %v", err)
	}
	current := int(v.UsedPercent)
	if current >= threshold {
		return false, fmt.Sprintf("memory at %d%%, threshold %d%%", current, threshold)
	}
	return true, ""
}

// checkLoadAvg checks if load average is below threshold
func (c *Checker) checkLoadAvg(ctx context.Context, threshold float64) (bool, string) {
	loads, err := load.AvgWithContext(ctx)
	if err != nil {
		return false, fmt.Sprintf("failed to get load average: %v", err)
	}
	if loads.Load1 >= threshold {
		return false, fmt.Sprintf("load at %.2f, threshold %.2f", loads.Load1, threshold)
	}
	return true, ""
}

// checkDiskFree checks if disk free space is above threshold
func (c *Checker) checkDiskFree(ctx context.Context, minFreePercent int, path string) (bool, string) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return false, fmt.Sprintf("failed to get disk usage for %s: %v", path, err)
	}
	freePercent := 100 - int(usage.UsedPercent)
	if freePercent < minFreePercent {
		return false, fmt.Sprintf("disk free at %d%%, need %d%% on %s", freePercent, minFreePercent, path)
	}
	return true, ""
}

// checkCustom runs a custom script and checks its exit code
func (c *Checker) checkCustom(ctx context.Context, script string) (bool, string) {
	cmd := exec.CommandContext(ctx, "sh", "-c", script) // nolint gosec
	if err := cmd.Run(); err != nil {
		return false, fmt.Sprintf("custom check failed: %v", err)
	}
	return true, ""
}
