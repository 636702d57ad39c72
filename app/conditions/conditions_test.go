package conditions

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/arbor/app/errs"
)

func TestCheck(t *testing.T) {
	checker := NewChecker(0)
	checker.cpuSample = 50 * time.Millisecond
	ctx := context.Background()

	tests := []struct {
		name       string
		conditions Config
		wantOK     bool
		wantReason string
	}{
		{name: "no conditions", conditions: Config{}, wantOK: true},
		{name: "cpu below 101 passes", conditions: Config{CPUBelow: intPtr(101)}, wantOK: true},
		{name: "cpu below 0 fails", conditions: Config{CPUBelow: intPtr(0)}, wantReason: "CPU at"},
		{name: "memory below 101 passes", conditions: Config{MemoryBelow: intPtr(101)}, wantOK: true},
		{name: "memory below 0 fails", conditions: Config{MemoryBelow: intPtr(0)}, wantReason: "memory at"},
		{name: "disk free above 0 passes", conditions: Config{DiskFreeAbove: intPtr(0), DiskFreePath: "/"}, wantOK: true},
		{name: "disk free above 101 fails", conditions: Config{DiskFreeAbove: intPtr(101)}, wantReason: "disk free at"},
		{name: "disk bad path", conditions: Config{DiskFreeAbove: intPtr(1), DiskFreePath: "/non/existent/path"},
			wantReason: "failed to get disk usage"},
		{name: "custom true", conditions: Config{Custom: "true"}, wantOK: true},
		{name: "custom false", conditions: Config{Custom: "exit 3"}, wantReason: "custom check failed"},
		{name: "first failed wins", conditions: Config{MemoryBelow: intPtr(0), Custom: "true"}, wantReason: "memory at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := checker.Check(ctx, tt.conditions)
			assert.Equal(t, tt.wantOK, ok, reason)
			if tt.wantReason == "" {
				assert.Empty(t, reason)
				return
			}
			assert.Contains(t, reason, tt.wantReason)
		})
	}
}

func TestCheckCanceled(t *testing.T) {
	checker := NewChecker(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	st := time.Now()
	ok, reason := checker.Check(ctx, Config{Custom: "sleep 5"})
	assert.False(t, ok)
	assert.Contains(t, reason, "custom check failed")
	assert.Less(t, time.Since(st), 3*time.Second)
}

func TestMaxConcurrentChecks(t *testing.T) {
	checker := NewChecker(2)
	var rejected, passed int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, reason := checker.Check(context.Background(), Config{Custom: "sleep 0.2"})
			switch {
			case ok:
				atomic.AddInt32(&passed, 1)
			case reason == limitReached:
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(6), passed+rejected)
	assert.LessOrEqual(t, passed, int32(6))
	assert.Positive(t, rejected, "with 2 slots and 200ms checks some are rejected")
}

func TestNewChecker(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		expected int
	}{
		{"negative becomes 10", -1, 10},
		{"zero becomes 10", 0, 10},
		{"custom limit 5", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(tt.limit)
			assert.Equal(t, tt.expected, checker.maxConcurrent)
			for range tt.expected {
				require.True(t, checker.semaphore.TryLock())
			}
			assert.False(t, checker.semaphore.TryLock(), "capacity is %d", tt.expected)
		})
	}
}

func TestConfig(t *testing.T) {
	assert.True(t, Config{DiskFreePath: "/tmp"}.Empty())
	assert.False(t, Config{Custom: "true"}.Empty())

	require.NoError(t, Config{CPUBelow: intPtr(50), LoadAvgBelow: float64Ptr(2)}.Validate())
	assert.ErrorIs(t, Config{CPUBelow: intPtr(150)}.Validate(), errs.ErrValidation)
	assert.ErrorIs(t, Config{DiskFreeAbove: intPtr(-1)}.Validate(), errs.ErrValidation)
	assert.ErrorIs(t, Config{LoadAvgBelow: float64Ptr(-1)}.Validate(), errs.ErrValidation)
}

func intPtr(i int) *int {
	return &i
}

func float64Ptr(f float64) *float64 {
	return &f
}
