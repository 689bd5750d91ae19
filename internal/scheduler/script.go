package scheduler

import (
	"fmt"
	"strings"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// RenderBatchScript serializes a JobRequest into an sbatch batch script:
// the directive block first, then the setup actions in declaration order,
// then the single payload line with its stdout redirection.
//
// The directive spellings are fixed. Sites pattern-match job scripts in
// accounting and epilog tooling, so the flags must come out byte-for-byte
// the way hand-written scripts spell them.
func RenderBatchScript(jr *models.JobRequest) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", jr.Name)
	if jr.SchedulerLog != "" {
		fmt.Fprintf(&b, "#SBATCH --output=%s\n", jr.SchedulerLog)
	}
	if jr.Resources.GPUCount > 0 {
		fmt.Fprintf(&b, "#SBATCH --gres=gpu:%d\n", jr.Resources.GPUCount)
	}
	if jr.Resources.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", jr.Resources.Partition)
	}
	if jr.Resources.Tasks > 0 {
		fmt.Fprintf(&b, "#SBATCH --ntasks=%d\n", jr.Resources.Tasks)
	}
	if jr.Resources.Nodes > 0 {
		fmt.Fprintf(&b, "#SBATCH --nodes=%d\n", jr.Resources.Nodes)
	}
	fmt.Fprintf(&b, "#SBATCH --time=%s\n", jr.Resources.WallClock)
	b.WriteString("\n")

	for _, action := range jr.SetupActions {
		b.WriteString(action.Command)
		b.WriteString("\n")
	}
	if len(jr.SetupActions) > 0 {
		b.WriteString("\n")
	}

	b.WriteString(jr.Payload.CommandLine(jr.OutputPath))
	b.WriteString("\n")
	return b.String()
}
