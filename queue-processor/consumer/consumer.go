// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package consumer

import (
	"context"
	"time"

	"github.com/go-stomp/stomp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/autoreduction/queue-processor/proto"
)

// A DataReadyHandler processes one data-ready message. A returned error
// means the message was not recorded and should be redelivered.
type DataReadyHandler interface {
	HandleDataReady(ctx context.Context, msg proto.Message) error
}

// A Consumer reads the data-ready queue and feeds messages to the handler,
// one at a time. Reductions are long; parallelism across instruments comes
// from running multiple orchestrator instances, each holding its own
// subscription.
type Consumer struct {
	client  *Client
	handler DataReadyHandler

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewConsumer returns a Consumer reading from client and dispatching to
// handler.
func NewConsumer(client *Client, handler DataReadyHandler) *Consumer {
	return &Consumer{
		client:   client,
		handler:  handler,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Run consumes the data-ready queue until Stop is called. Lost broker
// connections are re-established with the client's retry policy; Run only
// returns an error when reconnecting fails for good.
func (c *Consumer) Run() error {
	defer close(c.doneChan)

	for {
		sub, err := c.client.Subscribe(proto.QUEUE_DATA_READY)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{"queue": proto.QUEUE_DATA_READY}).Info("consuming the data-ready queue")

		alive := true
		for alive {
			select {
			case <-c.stopChan:
				sub.Unsubscribe()
				return nil
			case m, ok := <-sub.C:
				if !ok || m.Err != nil {
					alive = false
					break
				}
				c.process(m)
			}
		}

		// The subscription died with the connection; reconnect and resume.
		log.Warn("lost the broker connection, reconnecting")
		c.client.Disconnect()
		if err := c.client.Connect(); err != nil {
			return err
		}
	}
}

// Stop tells Run to finish the in-flight message and return.
func (c *Consumer) Stop(timeout time.Duration) {
	close(c.stopChan)
	select {
	case <-c.doneChan:
	case <-time.After(timeout):
		log.Warn("timed out waiting for the consumer to stop")
	}
}

func (c *Consumer) process(m *stomp.Message) {
	var msg proto.Message
	if err := msg.Populate(m.Body); err != nil {
		// A malformed body will never parse on redelivery; drop it.
		log.WithFields(log.Fields{"error": err}).Error("discarding an unparseable message")
		if err := c.client.Ack(m); err != nil {
			log.WithFields(log.Fields{"error": err}).Error("cannot ack a message")
		}
		return
	}

	if err := c.handler.HandleDataReady(context.Background(), msg); err != nil {
		log.WithFields(log.Fields{
			"run":   msg.RunNumber,
			"error": err,
		}).Error("cannot record the run, leaving the message for redelivery")
		if err := c.client.Nack(m); err != nil {
			log.WithFields(log.Fields{"error": err}).Error("cannot nack a message")
		}
		return
	}

	if err := c.client.Ack(m); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("cannot ack a message")
	}
}
