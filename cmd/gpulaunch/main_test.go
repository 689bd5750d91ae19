package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciml-hpc/gpulaunch/internal/config"
)

func TestBudgetLimit(t *testing.T) {
	t.Run("disabled returns empty limit", func(t *testing.T) {
		cfg := &config.Config{}
		limit, err := budgetLimit(cfg)
		require.NoError(t, err)
		assert.Empty(t, limit)
	})

	t.Run("enabled with limit passes it through", func(t *testing.T) {
		cfg := &config.Config{}
		cfg.Budget.Enabled = true
		cfg.Budget.MaxGPUHours = "128.5"
		limit, err := budgetLimit(cfg)
		require.NoError(t, err)
		assert.Equal(t, "128.5", limit)
	})

	t.Run("enabled without limit is a configuration error", func(t *testing.T) {
		// An empty limit must not silently disable an enabled budget.
		cfg := &config.Config{}
		cfg.Budget.Enabled = true
		_, err := budgetLimit(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_gpu_hours")
	})
}
