package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSystemInfoIsCachedAcrossCalls(t *testing.T) {
	first := GetSystemInfo()
	require.NotNil(t, first)
	assert.Equal(t, first, GetSystemInfo())
	assert.NotEmpty(t, first.OS)
	assert.NotEmpty(t, first.GoVersion)
}

func TestRuntimeMetricsCaptureStartAndFinalize(t *testing.T) {
	ctx := context.Background()

	rm := CaptureStart(ctx)
	require.NotNil(t, rm)

	rm.Finalize(ctx)
	assert.GreaterOrEqual(t, rm.MemoryPeakMB, rm.MemoryStartMB)

	m := rm.ToMap()
	assert.Contains(t, m, "memory_start_mb")
	assert.Contains(t, m, "goroutine_end")
}
