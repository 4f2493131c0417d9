package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conresinc/cloin.eda/internal/event"
)

func envelope(msg string) event.Envelope {
	return event.New(map[string]any{"message": msg}, nil)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input   string
		want    OverflowPolicy
		wantErr bool
	}{
		{"", OverflowBlock, false},
		{"block", OverflowBlock, false},
		{"drop", OverflowDrop, false},
		{"error", OverflowError, false},
		{"discard", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestChannelPushAndConsume(t *testing.T) {
	s := NewChannel(4, OverflowBlock)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, envelope("one")))
	require.NoError(t, s.Push(ctx, envelope("two")))

	got := <-s.Events()
	assert.Equal(t, "one", got.Payload["message"])
	got = <-s.Events()
	assert.Equal(t, "two", got.Payload["message"])
}

func TestChannelBlockPolicyHonorsContext(t *testing.T) {
	s := NewChannel(1, OverflowBlock)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, envelope("fills buffer")))

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Push(cancelCtx, envelope("would block"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelDropPolicyNeverBlocks(t *testing.T) {
	s := NewChannel(1, OverflowDrop)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, envelope("kept")))

	done := make(chan error, 1)
	go func() { done <- s.Push(ctx, envelope("dropped")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drop policy blocked")
	}

	// Only the first envelope is ever delivered.
	got := <-s.Events()
	assert.Equal(t, "kept", got.Payload["message"])
	select {
	case extra := <-s.Events():
		t.Fatalf("unexpected envelope: %v", extra.Payload)
	default:
	}
}

func TestChannelErrorPolicyReturnsSinkFull(t *testing.T) {
	s := NewChannel(1, OverflowError)
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, envelope("kept")))
	err := s.Push(ctx, envelope("rejected"))
	assert.ErrorIs(t, err, ErrSinkFull)
}

func TestChannelPushAfterClose(t *testing.T) {
	s := NewChannel(1, OverflowBlock)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	err := s.Push(context.Background(), envelope("late"))
	assert.ErrorIs(t, err, ErrSinkClosed)

	// Consumer sees a closed channel.
	_, ok := <-s.Events()
	assert.False(t, ok)
}
