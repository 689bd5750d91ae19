package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

func gpuTrainingRequest(t *testing.T) *models.JobRequest {
	t.Helper()
	wall, err := models.ParseWalltime("00-01:20")
	require.NoError(t, err)
	return &models.JobRequest{
		Name:       "test_nn_gpu",
		OutputPath: "run_updates.txt",
		Resources: models.Resources{
			GPUCount:  4,
			Partition: "gpu",
			Tasks:     12,
			Nodes:     1,
			WallClock: wall,
		},
		SetupActions: []models.SetupAction{
			{Command: "module load python/3.7"},
			{Command: "module load GPUmodules"},
			{Command: "module load cuda/10.1"},
			{Command: "module load cudnn/7.6"},
		},
		Payload: models.Payload{Interpreter: "python", Script: "restart.py"},
	}
}

func TestRenderBatchScript(t *testing.T) {
	script := RenderBatchScript(gpuTrainingRequest(t))

	want := `#!/bin/bash
#SBATCH --job-name=test_nn_gpu
#SBATCH --gres=gpu:4
#SBATCH --partition=gpu
#SBATCH --ntasks=12
#SBATCH --nodes=1
#SBATCH --time=00-01:20

module load python/3.7
module load GPUmodules
module load cuda/10.1
module load cudnn/7.6

python restart.py > run_updates.txt
`
	assert.Equal(t, want, script)
}

func TestRenderBatchScriptWithSchedulerLog(t *testing.T) {
	jr := gpuTrainingRequest(t)
	jr.SchedulerLog = "test_nn_gpu.out"
	script := RenderBatchScript(jr)
	assert.Contains(t, script, "#SBATCH --output=test_nn_gpu.out\n")
}

func TestRenderBatchScriptOmitsZeroResources(t *testing.T) {
	jr := gpuTrainingRequest(t)
	jr.Resources.GPUCount = 0
	jr.Resources.Partition = ""
	jr.SetupActions = nil
	script := RenderBatchScript(jr)

	assert.NotContains(t, script, "--gres")
	assert.NotContains(t, script, "--partition")
	// Walltime is always emitted; it is a required invariant.
	assert.Contains(t, script, "#SBATCH --time=00-01:20\n")
	assert.Contains(t, script, "\npython restart.py > run_updates.txt\n")
}
