package resources

import "testing"

func noEnv(string) string { return "" }

func TestCalibrate_WorkerAutodetect(t *testing.T) {
	cases := []struct {
		cpu  int
		want int
	}{
		{1, 2},
		{2, 2},
		{4, 3},
		{8, 6},
		{11, 8},
		{16, 8},
	}
	for _, tc := range cases {
		c := &Calibrator{CPUCount: tc.cpu, AvailableMemory: 1 << 30, Getenv: noEnv}
		got := c.Calibrate(100000, 0)
		if got.Workers != tc.want {
			t.Errorf("cpu=%d: workers = %d, want %d", tc.cpu, got.Workers, tc.want)
		}
	}
}

func TestCalibrate_WorkerEnvOverride(t *testing.T) {
	env := map[string]string{EnvWorkers: "5"}
	c := &Calibrator{CPUCount: 16, AvailableMemory: 1 << 30, Getenv: func(k string) string { return env[k] }}
	if got := c.Calibrate(100000, 0); got.Workers != 5 {
		t.Fatalf("workers = %d, want env override 5", got.Workers)
	}
}

func TestCalibrate_WorkerEnvInvalidFallsThrough(t *testing.T) {
	env := map[string]string{EnvWorkers: "lots"}
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 30, Getenv: func(k string) string { return env[k] }}
	if got := c.Calibrate(100000, 0); got.Workers != 3 {
		t.Fatalf("workers = %d, want autodetected 3", got.Workers)
	}
}

func TestCalibrate_ExplicitOverrideWinsOverEnv(t *testing.T) {
	env := map[string]string{EnvWorkers: "5"}
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 30, Getenv: func(k string) string { return env[k] }}
	if got := c.Calibrate(100000, 12); got.Workers != 12 {
		t.Fatalf("workers = %d, want explicit override 12", got.Workers)
	}
}

func TestCalibrate_OverrideClampedToCeiling(t *testing.T) {
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 30, Getenv: noEnv}
	if got := c.Calibrate(100000, 500); got.Workers != 64 {
		t.Fatalf("workers = %d, want ceiling 64", got.Workers)
	}
}

func TestCalibrate_BatchBoundedByMemory(t *testing.T) {
	c := &Calibrator{
		CPUCount:        4,
		AvailableMemory: 100 * defaultPerCasualtyBytes,
		Getenv:          noEnv,
	}
	got := c.Calibrate(100000, 0)
	if got.BatchSize != 100 {
		t.Fatalf("batch = %d, want memory-bounded 100", got.BatchSize)
	}
}

func TestCalibrate_BatchBoundedBySpread(t *testing.T) {
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 30, Getenv: noEnv}
	got := c.Calibrate(1200, 0)
	// 3 workers, two batches each: 1200 / 6 = 200.
	if got.BatchSize != 200 {
		t.Fatalf("batch = %d, want spread-bounded 200", got.BatchSize)
	}
}

func TestCalibrate_BatchCapped(t *testing.T) {
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 40, Getenv: noEnv}
	got := c.Calibrate(10_000_000, 0)
	if got.BatchSize != defaultMaxBatch {
		t.Fatalf("batch = %d, want cap %d", got.BatchSize, defaultMaxBatch)
	}
}

func TestCalibrate_BatchFloored(t *testing.T) {
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 30, Getenv: noEnv}
	got := c.Calibrate(60, 0)
	if got.BatchSize != defaultMinBatch {
		t.Fatalf("batch = %d, want floor %d", got.BatchSize, defaultMinBatch)
	}
}

func TestCalibrate_MemoryEnvOverride(t *testing.T) {
	env := map[string]string{EnvMaxMemoryMB: "1"}
	c := &Calibrator{CPUCount: 4, AvailableMemory: 1 << 40, Getenv: func(k string) string { return env[k] }}
	got := c.Calibrate(100000, 0)
	// 1 MiB at 16 KiB per casualty allows 64 in flight.
	if got.BatchSize != 64 {
		t.Fatalf("batch = %d, want 64", got.BatchSize)
	}
}
