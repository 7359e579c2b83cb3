// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

// Package consumer connects the orchestrator to the message broker: a STOMP
// client, the producer used to publish outcome messages, and the consumer
// loop that feeds data-ready messages to the handler.
package consumer

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/config"
	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/retry"
)

const (
	connectTries     = 5
	connectWait      = 3 * time.Second
	contentTypeJSON  = "application/json"
	scheduledDelayHd = "AMQ_SCHEDULED_DELAY" // broker-side delay, milliseconds
)

// A Client wraps one STOMP connection. It implements run.Producer, so the
// retry controller and handler publish through the same connection the
// consumer reads from.
type Client struct {
	cfg config.STOMP

	mu   sync.Mutex
	conn *stomp.Conn
}

// NewClient returns an unconnected Client for the broker in cfg.
func NewClient(cfg config.STOMP) *Client {
	return &Client{
		cfg: cfg,
	}
}

// Connect dials the broker, retrying a few times before giving up. It is
// safe to call again after a connection loss.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return retry.Do(connectTries, connectWait,
		func() error {
			conn, err := stomp.Dial("tcp", c.cfg.Addr, c.connOpts()...)
			if err != nil {
				return err
			}
			c.conn = conn
			log.WithFields(log.Fields{"addr": c.cfg.Addr}).Info("connected to the broker")
			return nil
		},
		func(err error) {
			log.WithFields(log.Fields{"addr": c.cfg.Addr, "error": err}).Warn("cannot connect to the broker, retrying")
		},
	)
}

// Disconnect closes the connection gracefully.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Disconnect()
		c.conn = nil
	}
}

// Subscribe subscribes to a queue with client-individual acks, so one slow
// reduction never blocks redelivery of its neighbors.
func (c *Client) Subscribe(queue string) (*stomp.Subscription, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}
	return conn.Subscribe(queue, stomp.AckClientIndividual)
}

// Send publishes msg to the queue.
func (c *Client) Send(queue string, msg proto.Message) error {
	return c.send(queue, msg)
}

// SendDelayed publishes msg to the queue with a broker-side scheduled delay.
func (c *Client) SendDelayed(queue string, msg proto.Message, delay time.Duration) error {
	return c.send(queue, msg,
		stomp.SendOpt.Header(scheduledDelayHd, strconv.FormatInt(delay.Milliseconds(), 10)))
}

func (c *Client) send(queue string, msg proto.Message, opts ...func(*frame.Frame) error) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	body, err := msg.Serialize()
	if err != nil {
		return fmt.Errorf("cannot serialize message for %s: %s", queue, err)
	}
	return conn.Send(queue, contentTypeJSON, body, opts...)
}

// Ack acknowledges a consumed message.
func (c *Client) Ack(m *stomp.Message) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Ack(m)
}

// Nack rejects a consumed message so the broker redelivers it.
func (c *Client) Nack(m *stomp.Message) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	return conn.Nack(m)
}

func (c *Client) connection() (*stomp.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to the broker")
	}
	return c.conn, nil
}

func (c *Client) connOpts() []func(*stomp.Conn) error {
	heartbeat := time.Duration(c.cfg.HeartbeatSec) * time.Second
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(heartbeat, heartbeat),
	}
	if c.cfg.Username != "" {
		opts = append(opts, stomp.ConnOpt.Login(c.cfg.Username, c.cfg.Password))
	}
	return opts
}
