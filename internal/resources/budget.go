// Package resources sizes the worker pool and batch size for a generation
// job. The budget is computed once at job start from explicit inputs and
// passed down; nothing in the pipeline reads the environment afterwards.
package resources

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Environment overrides honored by the calibrator.
const (
	EnvWorkers     = "CASGEN_WORKERS"
	EnvMaxMemoryMB = "CASGEN_MAX_MEMORY_MB"
)

const (
	defaultPerCasualtyBytes = 16 * 1024
	defaultMaxBatch         = 1000
	defaultMinBatch         = 50
	maxWorkers              = 64
	fallbackMemoryBytes     = 2 << 30
)

// Budget is the resource envelope a job runs under.
type Budget struct {
	Workers   int `json:"workers"`
	BatchSize int `json:"batch_size"`
}

// Calibrator derives a Budget. Zero-valued fields fall back to detection:
// CPU count from the runtime, memory to half of what the host reports as
// available. Detection runs inside Calibrate, never during the job.
type Calibrator struct {
	CPUCount        int
	AvailableMemory int64
	PerCasualty     int64
	MaxBatch        int
	MinBatch        int

	// Getenv defaults to os.Getenv; tests substitute it.
	Getenv func(string) string
}

func (c *Calibrator) getenv(key string) string {
	if c.Getenv != nil {
		return c.Getenv(key)
	}
	return os.Getenv(key)
}

// Calibrate computes the budget for a job of totalPatients casualties.
// Worker priority: explicit override, then CASGEN_WORKERS, then
// clamp(round(cpu*0.75), 2, 8). Batch size is bounded by the memory budget,
// by keeping every worker at least two batches busy, and by a hard cap.
func (c *Calibrator) Calibrate(totalPatients, workerOverride int) Budget {
	workers := c.workers(workerOverride)

	perCasualty := c.PerCasualty
	if perCasualty <= 0 {
		perCasualty = defaultPerCasualtyBytes
	}
	maxBatch := c.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	minBatch := c.MinBatch
	if minBatch <= 0 {
		minBatch = defaultMinBatch
	}

	batch := int(c.memoryBudget() / perCasualty)
	if spread := totalPatients / (workers * 2); spread < batch {
		batch = spread
	}
	if batch > maxBatch {
		batch = maxBatch
	}
	if batch < minBatch {
		batch = minBatch
	}

	return Budget{Workers: workers, BatchSize: batch}
}

func (c *Calibrator) workers(override int) int {
	if override > 0 {
		if override > maxWorkers {
			return maxWorkers
		}
		return override
	}
	if v := c.getenv(EnvWorkers); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > maxWorkers {
				return maxWorkers
			}
			return n
		}
	}
	cpu := c.CPUCount
	if cpu <= 0 {
		cpu = runtime.NumCPU()
	}
	w := int(math.Round(float64(cpu) * 0.75))
	if w < 2 {
		w = 2
	}
	if w > 8 {
		w = 8
	}
	return w
}

func (c *Calibrator) memoryBudget() int64 {
	if v := c.getenv(EnvMaxMemoryMB); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil && mb > 0 {
			return mb << 20
		}
	}
	if c.AvailableMemory > 0 {
		return c.AvailableMemory
	}
	return availableSystemMemory() / 2
}

// availableSystemMemory reads MemAvailable from /proc/meminfo, falling back
// to a fixed figure on hosts without it.
func availableSystemMemory() int64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return fallbackMemoryBytes
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb * 1024
	}
	return fallbackMemoryBytes
}
