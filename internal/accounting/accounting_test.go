package accounting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

func resources(t *testing.T, gpus int, walltime string) models.Resources {
	t.Helper()
	wall, err := models.ParseWalltime(walltime)
	require.NoError(t, err)
	return models.Resources{GPUCount: gpus, Nodes: 1, WallClock: wall}
}

func TestEstimateGPUHours(t *testing.T) {
	// 4 GPUs for 1h20m = 16/3 gpu-hours.
	est := EstimateGPUHours(resources(t, 4, "00-01:20"))
	assert.Equal(t, "5.3333333333333333", est.StringFixed(16))

	est = EstimateGPUHours(resources(t, 2, "1-00"))
	assert.True(t, est.Equal(EstimateGPUHours(resources(t, 2, "24:00:00"))))
	assert.Equal(t, "48", est.String())
}

func TestEstimateGPUHoursZeroWithoutGPUs(t *testing.T) {
	est := EstimateGPUHours(resources(t, 0, "2-00"))
	assert.True(t, est.IsZero())
}

func TestBudgetCheck(t *testing.T) {
	budget, err := NewBudget("16")
	require.NoError(t, err)

	assert.NoError(t, budget.Check(resources(t, 4, "00-04:00")))
	err = budget.Check(resources(t, 4, "00-04:01"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrBudgetExceeded)
}

func TestBudgetDisabled(t *testing.T) {
	budget, err := NewBudget("")
	require.NoError(t, err)
	assert.NoError(t, budget.Check(resources(t, 512, "7-00")))
}

func TestBudgetRejectsBadLimit(t *testing.T) {
	_, err := NewBudget("lots")
	assert.Error(t, err)
}
