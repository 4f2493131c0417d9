// Package sink defines the boundary to the downstream rule engine and the
// available transports: an in-process channel and a NATS publisher.
package sink

import (
	"context"
	"errors"

	"github.com/conresinc/cloin.eda/internal/event"
)

// ErrSinkFull is returned by Push under the "error" overflow policy when
// the sink cannot accept an envelope without blocking.
var ErrSinkFull = errors.New("sink is full")

// ErrSinkClosed is returned by Push after Close.
var ErrSinkClosed = errors.New("sink is closed")

// Sink accepts envelopes from source runners. Push must be safe for
// concurrent use from multiple runners; each push is atomic, the consumer
// never observes a partial envelope.
type Sink interface {
	Push(ctx context.Context, env event.Envelope) error
	Close() error
}

// OverflowPolicy controls what Push does when the sink cannot accept an
// envelope immediately. Deployment choice, not hardcoded.
type OverflowPolicy string

const (
	// OverflowBlock waits until the consumer drains (default).
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop discards the envelope and counts it.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowError returns ErrSinkFull to the runner.
	OverflowError OverflowPolicy = "error"
)

// ParsePolicy validates an overflow policy string, defaulting to block.
func ParsePolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDrop:
		return OverflowDrop, nil
	case OverflowError:
		return OverflowError, nil
	default:
		return "", errors.New("unknown overflow policy: " + s)
	}
}
