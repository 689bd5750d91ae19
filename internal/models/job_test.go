package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseWalltime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"00-01:20", 1*time.Hour + 20*time.Minute},
		{"2-12:00", 60 * time.Hour},
		{"1-00", 24 * time.Hour},
		{"0-00:00:30", 30 * time.Second},
		{"01:20:00", 1*time.Hour + 20*time.Minute},
		{"90", 90 * time.Minute},
		{"10:30", 10*time.Minute + 30*time.Second},
	}
	for _, tc := range cases {
		got, err := ParseWalltime(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got.Duration, "input %q", tc.in)
	}
}

func TestParseWalltimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1-2-3", "-01:20", "00-01:xx", "1::2"} {
		_, err := ParseWalltime(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestWalltimeStringKeepsJobScriptForm(t *testing.T) {
	w, err := ParseWalltime("00-01:20")
	require.NoError(t, err)
	assert.Equal(t, "00-01:20", w.String())

	withSeconds := Walltime{Duration: 90 * time.Second}
	assert.Equal(t, "00-00:01:30", withSeconds.String())
}

func validRequest() JobRequest {
	wall, _ := ParseWalltime("00-01:20")
	return JobRequest{
		Name:       "test_nn_gpu",
		OutputPath: "run_updates.txt",
		Resources: Resources{
			GPUCount:  4,
			Partition: "gpu",
			Tasks:     12,
			Nodes:     1,
			WallClock: wall,
		},
		SetupActions: []SetupAction{
			{Command: "module load python/3.7"},
			{Command: "module load GPUmodules"},
			{Command: "module load cuda/10.1"},
			{Command: "module load cudnn/7.6"},
		},
		Payload: Payload{Interpreter: "python", Script: "restart.py"},
	}
}

func TestValidateAcceptsValidRequest(t *testing.T) {
	jr := validRequest()
	assert.NoError(t, jr.Validate())
}

func TestValidateRejectsInvariantViolations(t *testing.T) {
	mutations := map[string]func(*JobRequest){
		"missing name":       func(jr *JobRequest) { jr.Name = "" },
		"missing output":     func(jr *JobRequest) { jr.OutputPath = "" },
		"negative gpus":      func(jr *JobRequest) { jr.Resources.GPUCount = -1 },
		"negative tasks":     func(jr *JobRequest) { jr.Resources.Tasks = -4 },
		"negative nodes":     func(jr *JobRequest) { jr.Resources.Nodes = -1 },
		"zero walltime":      func(jr *JobRequest) { jr.Resources.WallClock = Walltime{} },
		"empty setup action": func(jr *JobRequest) { jr.SetupActions[1].Command = "  " },
		"no interpreter":     func(jr *JobRequest) { jr.Payload.Interpreter = "" },
		"no script":          func(jr *JobRequest) { jr.Payload.Script = "" },
	}
	for name, mutate := range mutations {
		jr := validRequest()
		mutate(&jr)
		err := jr.Validate()
		require.Error(t, err, name)
		assert.ErrorIs(t, err, ErrInvalidJobRequest, name)
	}
}

func TestJobFileYAMLRoundTrip(t *testing.T) {
	jobYAML := `
name: test_nn_gpu
output: run_updates.txt
resources:
  gpus: 4
  partition: gpu
  tasks: 12
  nodes: 1
  time: 00-01:20
setup:
  - module load python/3.7
  - module load GPUmodules
  - module load cuda/10.1
  - module load cudnn/7.6
payload:
  interpreter: python
  script: restart.py
`
	var jr JobRequest
	require.NoError(t, yaml.Unmarshal([]byte(jobYAML), &jr))
	require.NoError(t, jr.Validate())

	assert.Equal(t, "test_nn_gpu", jr.Name)
	assert.Equal(t, 4, jr.Resources.GPUCount)
	assert.Equal(t, 1*time.Hour+20*time.Minute, jr.Resources.WallClock.Duration)
	require.Len(t, jr.SetupActions, 4)
	assert.Equal(t, "module load GPUmodules", jr.SetupActions[1].Command)

	out, err := yaml.Marshal(&jr)
	require.NoError(t, err)
	assert.Contains(t, string(out), "time: 00-01:20")
}

func TestPayloadCommandLine(t *testing.T) {
	p := Payload{Interpreter: "python", Script: "restart.py"}
	assert.Equal(t, "python restart.py > run_updates.txt", p.CommandLine("run_updates.txt"))
}
