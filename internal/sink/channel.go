package sink

import (
	"context"
	"sync"

	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/metrics"
)

// Channel is the in-process sink: a buffered channel the embedding rule
// engine consumes from. Channel sends are atomic per envelope, so
// concurrent runners never interleave inside one envelope.
type Channel struct {
	ch     chan event.Envelope
	policy OverflowPolicy

	mu     sync.Mutex
	closed bool
}

// NewChannel creates a channel sink with the given buffer size and
// overflow policy.
func NewChannel(buffer int, policy OverflowPolicy) *Channel {
	if buffer <= 0 {
		buffer = 1000
	}
	return &Channel{
		ch:     make(chan event.Envelope, buffer),
		policy: policy,
	}
}

// Events is the consumer side of the sink. The channel is closed by
// Close once all runners have stopped.
func (c *Channel) Events() <-chan event.Envelope {
	return c.ch
}

// Push hands one envelope to the consumer according to the overflow
// policy.
func (c *Channel) Push(ctx context.Context, env event.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSinkClosed
	}
	c.mu.Unlock()

	switch c.policy {
	case OverflowDrop:
		select {
		case c.ch <- env:
			metrics.SinkPushes.Inc()
			return nil
		default:
			metrics.SinkDrops.Inc()
			return nil
		}
	case OverflowError:
		select {
		case c.ch <- env:
			metrics.SinkPushes.Inc()
			return nil
		default:
			return ErrSinkFull
		}
	default: // OverflowBlock
		select {
		case c.ch <- env:
			metrics.SinkPushes.Inc()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close closes the consumer channel. Pushes after Close return
// ErrSinkClosed. Callers must ensure all runners have stopped first.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.ch)
	return nil
}
