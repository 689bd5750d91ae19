package models

import (
	"fmt"
	"time"
)

// JobState is the lifecycle state of a submission as tracked by gpulaunch.
// These are the launcher's own bookkeeping states, distinct from whatever
// states the external scheduler reports in its listings.
type JobState string

const (
	// StatePending means the request was accepted locally but not yet
	// handed to a scheduler backend.
	StatePending JobState = "pending"
	// StateSubmitted means the scheduler accepted the request and assigned
	// a job identifier.
	StateSubmitted JobState = "submitted"
	// StateInProgress means setup actions or the payload are running on the
	// allocated node.
	StateInProgress JobState = "in_progress"
	// StateCompleted means the payload ran and exited zero.
	StateCompleted JobState = "completed"
	// StateFailed means submission, setup or the payload failed. All
	// failures are terminal; resubmission is manual.
	StateFailed JobState = "failed"
)

// JobStatusUpdate is published by a node agent to report execution progress
// back over the status subject.
type JobStatusUpdate struct {
	JobID     string    `json:"job_id"`
	AgentID   string    `json:"agent_id"`
	State     JobState  `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`

	// FailedAction is the index of the setup action that failed, when the
	// failure happened during environment setup. Nil otherwise.
	FailedAction *int `json:"failed_action,omitempty"`

	// Node is a snapshot of the executing node, attached to heartbeats and
	// terminal updates.
	Node *NodeOverview `json:"node,omitempty"`
}

// NewJobStatusUpdate creates a status update stamped with the current time.
func NewJobStatusUpdate(jobID, agentID string, state JobState, message string) *JobStatusUpdate {
	return &JobStatusUpdate{
		JobID:     jobID,
		AgentID:   agentID,
		State:     state,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// String returns a human-readable one-liner for logs.
func (u *JobStatusUpdate) String() string {
	return fmt.Sprintf("job=%s agent=%s state=%s at=%s msg=%s",
		u.JobID, u.AgentID, u.State, u.Timestamp.Format(time.RFC3339), u.Message)
}

// NodeOverview describes the node an agent runs on. Collected with gopsutil
// by the agent and attached to status traffic so operators can see where a
// job landed without querying the scheduler.
type NodeOverview struct {
	Hostname        string  `json:"hostname"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	RAMUsagePercent float64 `json:"ram_usage_percent"`
	FreeDiskGB      uint64  `json:"free_disk_gb"`
	UptimeSeconds   uint64  `json:"uptime_seconds"`
}
