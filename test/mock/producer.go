// Copyright 2024, ISIS Rutherford Appleton Laboratory UKRI

package mock

import (
	"errors"
	"sync"
	"time"

	"github.com/autoreduction/queue-processor/proto"
)

var (
	// ErrProducer is the forced error for the Producer mock.
	ErrProducer = errors.New("forced error in producer")
)

// Sent is one message captured by the Producer mock.
type Sent struct {
	Queue string
	Msg   proto.Message
	Delay time.Duration
}

// Producer is a mock run.Producer that records every message it is given.
type Producer struct {
	SendFunc        func(queue string, msg proto.Message) error
	SendDelayedFunc func(queue string, msg proto.Message, delay time.Duration) error

	mu   sync.Mutex
	sent []Sent
}

func (p *Producer) Send(queue string, msg proto.Message) error {
	if p.SendFunc != nil {
		return p.SendFunc(queue, msg)
	}
	p.record(Sent{Queue: queue, Msg: msg})
	return nil
}

func (p *Producer) SendDelayed(queue string, msg proto.Message, delay time.Duration) error {
	if p.SendDelayedFunc != nil {
		return p.SendDelayedFunc(queue, msg, delay)
	}
	p.record(Sent{Queue: queue, Msg: msg, Delay: delay})
	return nil
}

func (p *Producer) record(s Sent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, s)
}

// Sent returns every recorded message in send order.
func (p *Producer) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sent, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentTo returns the recorded messages for one queue.
func (p *Producer) SentTo(queue string) []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []Sent{}
	for _, s := range p.sent {
		if s.Queue == queue {
			out = append(out, s)
		}
	}
	return out
}
