// Package accounting estimates the GPU-hour cost of a resource request so
// submissions can be bounced before the scheduler sees them. Mirrors how
// Slurm bills TRES: requested GPUs for the full wall-clock limit.
package accounting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

var secondsPerHour = decimal.NewFromInt(3600)

// EstimateGPUHours returns gpus * walltime in hours for a request. A job
// with no GPUs costs zero regardless of walltime. GPUCount is a job total,
// so nodes do not multiply in.
func EstimateGPUHours(res models.Resources) decimal.Decimal {
	if res.GPUCount <= 0 {
		return decimal.Zero
	}
	// Multiply before dividing so the only rounding happens once, at the
	// final seconds-to-hours conversion.
	seconds := decimal.NewFromInt(int64(res.WallClock.Duration.Seconds()))
	gpuSeconds := decimal.NewFromInt(int64(res.GPUCount)).Mul(seconds)
	return gpuSeconds.Div(secondsPerHour)
}

// Budget is an optional submit-time cap on a single request's GPU-hours.
type Budget struct {
	MaxGPUHours decimal.Decimal
	enabled     bool
}

// NewBudget parses the configured maximum. An empty string disables the
// check.
func NewBudget(maxGPUHours string) (Budget, error) {
	if maxGPUHours == "" {
		return Budget{}, nil
	}
	limit, err := decimal.NewFromString(maxGPUHours)
	if err != nil {
		return Budget{}, fmt.Errorf("invalid max_gpu_hours %q: %w", maxGPUHours, err)
	}
	return Budget{MaxGPUHours: limit, enabled: true}, nil
}

// Check returns ErrBudgetExceeded when the request's estimate is over the
// configured cap. This is a submission failure: the job never reaches the
// scheduler.
func (b Budget) Check(res models.Resources) error {
	if !b.enabled {
		return nil
	}
	estimate := EstimateGPUHours(res)
	if estimate.GreaterThan(b.MaxGPUHours) {
		return fmt.Errorf("%w: request needs %s gpu-hours, budget is %s",
			models.ErrBudgetExceeded, estimate.String(), b.MaxGPUHours.String())
	}
	return nil
}
