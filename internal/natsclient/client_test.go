package natsclient

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nats-io/nats.go"

	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// fakeJobMsg records ack calls so dispatch ordering is observable. Ack
// events and handler runs append to a shared event log.
type fakeJobMsg struct {
	events     *[]string
	ackErr     error
	ackSyncErr error
}

func (m *fakeJobMsg) Ack(opts ...nats.AckOpt) error {
	*m.events = append(*m.events, "ack")
	return m.ackErr
}

func (m *fakeJobMsg) AckSync(opts ...nats.AckOpt) error {
	*m.events = append(*m.events, "acksync")
	return m.ackSyncErr
}

func dispatchClient(t *testing.T, events *[]string, handlerErr error) *Client {
	t.Helper()
	return &Client{
		logger: zap.NewNop(),
		jobHandler: func(jr *models.JobRequest) error {
			*events = append(*events, "run "+jr.ID)
			return handlerErr
		},
	}
}

func encodedJob(t *testing.T, id string) []byte {
	t.Helper()
	data, err := json.Marshal(&models.JobRequest{ID: id, Name: "test_nn_gpu"})
	require.NoError(t, err)
	return data
}

func TestDispatchAcksBeforeRunningJob(t *testing.T) {
	var events []string
	c := dispatchClient(t, &events, nil)

	c.dispatch(encodedJob(t, "job-1"), &fakeJobMsg{events: &events})

	// The sync ACK lands before the handler so a started job is never
	// redelivered to another agent.
	assert.Equal(t, []string{"acksync", "run job-1"}, events)
}

func TestDispatchAcksUnparsableMessage(t *testing.T) {
	var events []string
	c := dispatchClient(t, &events, nil)

	c.dispatch([]byte("{not json"), &fakeJobMsg{events: &events})

	// Poison pills get a plain ACK and never reach the handler.
	assert.Equal(t, []string{"ack"}, events)
}

func TestDispatchSkipsExecutionWhenAckFails(t *testing.T) {
	var events []string
	c := dispatchClient(t, &events, nil)

	msg := &fakeJobMsg{events: &events, ackSyncErr: fmt.Errorf("ack timeout")}
	c.dispatch(encodedJob(t, "job-2"), msg)

	// Without a confirmed ACK the message may be redelivered, so running
	// it here could mean a duplicate run.
	assert.Equal(t, []string{"acksync"}, events)
}

func TestDispatchRunsJobOnceEvenWhenHandlerFails(t *testing.T) {
	var events []string
	c := dispatchClient(t, &events, fmt.Errorf("setup action failed"))

	c.dispatch(encodedJob(t, "job-3"), &fakeJobMsg{events: &events})

	// A failed job is terminal: the message was already ACKed and the
	// handler is not retried.
	assert.Equal(t, []string{"acksync", "run job-3"}, events)
}
