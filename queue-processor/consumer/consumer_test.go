// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package consumer_test

import (
	"context"
	"testing"

	"github.com/autoreduction/queue-processor/config"
	"github.com/autoreduction/queue-processor/proto"
	"github.com/autoreduction/queue-processor/queue-processor/consumer"
)

type noopHandler struct{}

func (noopHandler) HandleDataReady(ctx context.Context, msg proto.Message) error {
	return nil
}

func TestSendRequiresConnection(t *testing.T) {
	c := consumer.NewClient(config.STOMP{Addr: "localhost:61613"})
	if err := c.Send(proto.QUEUE_REDUCTION_PENDING, proto.Message{}); err == nil {
		t.Error("err = nil, expected an error before Connect")
	}
}

func TestRunRequiresConnection(t *testing.T) {
	c := consumer.NewClient(config.STOMP{Addr: "localhost:61613"})
	cons := consumer.NewConsumer(c, noopHandler{})
	if err := cons.Run(); err == nil {
		t.Error("err = nil, expected an error before Connect")
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	c := consumer.NewClient(config.STOMP{})
	c.Disconnect() // must not panic
}
