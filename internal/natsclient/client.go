// Package natsclient wraps the NATS connection used by the queue scheduler
// backend and the node agents: job dispatch consumption on one subject,
// status publication on another.
package natsclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sciml-hpc/gpulaunch/internal/config"
	"github.com/sciml-hpc/gpulaunch/internal/models"
)

// JobHandlerFunc processes one dispatched job request.
type JobHandlerFunc func(jr *models.JobRequest) error

// Client manages the NATS connection and the agent's subscription.
type Client struct {
	nc           *nats.Conn
	js           nats.JetStreamContext
	logger       *zap.Logger
	cfg          config.NatsConfig
	instanceID   string
	subscription *nats.Subscription
	jobHandler   JobHandlerFunc
	shutdownChan chan struct{}
}

// NewClient connects to NATS and obtains a JetStream context. The handler
// may be nil for submit-only clients that never consume jobs.
func NewClient(cfg config.NatsConfig, instanceID string, logger *zap.Logger, handler JobHandlerFunc) (*Client, error) {
	client := &Client{
		logger:       logger,
		cfg:          cfg,
		instanceID:   instanceID,
		jobHandler:   handler,
		shutdownChan: make(chan struct{}),
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed permanently.")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	client.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}
	client.js = js

	logger.Info("Connected to NATS", zap.String("url", cfg.URL))
	return client, nil
}

// Conn exposes the raw connection for the queue scheduler's publish path.
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// StartListening creates the durable pull subscription on the job submit
// subject and starts the fetch loop. The stream capturing the subject is
// assumed to exist, configured by the site's NATS deployment.
func (c *Client) StartListening() error {
	if c.jobHandler == nil {
		return fmt.Errorf("no job handler configured")
	}

	durableName := fmt.Sprintf("%s_%s", c.cfg.QueueGroup, "agent")
	c.logger.Info("Subscribing to job submit subject (JetStream pull)",
		zap.String("subject", c.cfg.JobSubmitSubject),
		zap.String("durable_name", durableName),
	)

	var err error
	c.subscription, err = c.js.PullSubscribe(
		c.cfg.JobSubmitSubject,
		durableName,
		nats.AckWait(c.cfg.AckWait),
	)
	if err != nil {
		return fmt.Errorf("failed to create pull subscription: %w", err)
	}

	go c.fetchLoop()
	return nil
}

func (c *Client) fetchLoop() {
	c.logger.Info("Starting job fetch loop")
	// One job at a time; a node agent runs jobs sequentially.
	const batchSize = 1
	for {
		select {
		case <-c.shutdownChan:
			c.logger.Info("Shutting down job fetch loop")
			return
		default:
			msgs, err := c.subscription.Fetch(batchSize, nats.MaxWait(10*time.Second))
			if err != nil {
				if err == nats.ErrTimeout {
					continue
				}
				c.logger.Error("Error fetching jobs from JetStream", zap.Error(err))
				if !c.subscription.IsValid() || c.nc.Status() != nats.CONNECTED {
					c.logger.Error("NATS subscription or connection lost, stopping fetch loop")
					return
				}
				time.Sleep(5 * time.Second)
				continue
			}
			for _, msg := range msgs {
				c.dispatch(msg.Data, msg)
			}
		}
	}
}

// acknowledger is the slice of *nats.Msg the dispatch path needs, narrowed
// so the ack ordering can be exercised without a broker.
type acknowledger interface {
	Ack(opts ...nats.AckOpt) error
	AckSync(opts ...nats.AckOpt) error
}

func (c *Client) dispatch(data []byte, msg acknowledger) {
	var jr models.JobRequest
	if err := json.Unmarshal(data, &jr); err != nil {
		c.logger.Error("Failed to unmarshal job request from NATS message",
			zap.Error(err),
			zap.ByteString("raw_data", data),
		)
		// ACK poison pills so they do not loop through redelivery.
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Error("Failed to ACK unparsable message", zap.Error(ackErr))
		}
		return
	}

	// ACK before execution: failures are terminal by design, so the job
	// must not be redelivered to another agent after it has started.
	if err := msg.AckSync(); err != nil {
		c.logger.Error("Failed to ACK job message, skipping execution to avoid a duplicate run",
			zap.String("job_id", jr.ID), zap.Error(err))
		return
	}

	if err := c.jobHandler(&jr); err != nil {
		c.logger.Error("Job handler reported failure",
			zap.String("job_id", jr.ID), zap.Error(err))
	}
}

// PublishStatus sends a status update on the status subject.
func (c *Client) PublishStatus(update *models.JobStatusUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}
	if err := c.nc.Publish(c.cfg.StatusUpdateSubject, data); err != nil {
		return fmt.Errorf("failed to publish status update for job %s: %w", update.JobID, err)
	}
	c.logger.Debug("Published status update", zap.String("status", update.String()))
	return nil
}

// Stop drains the subscription and closes the connection.
func (c *Client) Stop() {
	close(c.shutdownChan)
	if c.subscription != nil {
		if err := c.subscription.Drain(); err != nil {
			c.logger.Error("Error draining NATS subscription", zap.Error(err))
			if unsubErr := c.subscription.Unsubscribe(); unsubErr != nil {
				c.logger.Error("Error unsubscribing after drain failed", zap.Error(unsubErr))
			}
		}
	}
	if c.nc != nil && !c.nc.IsClosed() {
		c.nc.Close()
	}
	c.logger.Info("NATS client stopped")
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.Status() == nats.CONNECTED
}
