// Package runner drives one connector: scheduling, retry with backoff,
// lifecycle, and forwarding envelopes to the sink.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/conresinc/cloin.eda/internal/cursor"
	"github.com/conresinc/cloin.eda/internal/logging"
	"github.com/conresinc/cloin.eda/internal/metrics"
	"github.com/conresinc/cloin.eda/internal/sink"
	"github.com/conresinc/cloin.eda/internal/source"
)

// State is the runner lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateRetrying
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRetrying:
		return "retrying"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds runner tuning knobs. Zero values fall back to defaults.
type Config struct {
	// Interval is the polling interval for poll-style connectors.
	// Ignored for subscribers.
	Interval time.Duration

	// BackoffBase is the initial retry delay for failed opens.
	BackoffBase time.Duration

	// BackoffMax caps the retry delay.
	BackoffMax time.Duration

	// BackoffJitter is the randomization factor applied to each delay.
	// Zero selects the default of 0.5; a negative value disables jitter.
	BackoffJitter float64

	// MaxAuthRetries caps open attempts failing with AuthError before the
	// runner escalates to a fatal stop. Credentials may be rotated
	// externally, so a few retries are allowed.
	MaxAuthRetries int

	// MaxConsecutiveFailures is the number of back-to-back failed fetch
	// cycles after which the runner closes and reopens the connector
	// under backoff instead of polling again.
	MaxConsecutiveFailures int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffJitter == 0 {
		c.BackoffJitter = 0.5
	} else if c.BackoffJitter < 0 {
		c.BackoffJitter = 0
	}
	if c.MaxAuthRetries <= 0 {
		c.MaxAuthRetries = 10
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	return c
}

// Runner owns one connector and its cursor entry. One goroutine per
// runner; sources never share connection state, and envelope order within
// one runner matches fetch order.
type Runner struct {
	conn   source.Connector
	store  cursor.Store
	sink   sink.Sink
	cfg    Config
	logger *slog.Logger

	state  atomic.Int32
	opened bool
}

// New creates a runner for one configured source.
func New(conn source.Connector, store cursor.Store, sk sink.Sink, cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		conn:   conn,
		store:  store,
		sink:   sk,
		cfg:    cfg.withDefaults(),
		logger: logger.With(logging.Source(conn.Name()), logging.Kind(conn.Kind())),
	}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	metrics.RunnerState.WithLabelValues(r.conn.Name(), r.conn.Kind()).Set(float64(s))
	r.logger.Debug("runner state changed", logging.State(s.String()))
}

// Run drives the connector until ctx is cancelled or a fatal error
// occurs. Transient failures never terminate the runner; a non-nil error
// is always fatal (ConfigError, or AuthError past its retry cap). The
// connector handle is released before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	defer r.stop()

	if err := r.open(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	var err error
	if sub, ok := r.conn.(source.Subscriber); ok {
		err = r.subscribeLoop(ctx, sub)
	} else if poller, ok := r.conn.(source.Poller); ok {
		err = r.pollLoop(ctx, poller)
	} else {
		err = fmt.Errorf("source %s: connector %T is neither a poller nor a subscriber", r.conn.Name(), r.conn)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// stop closes the connector handle if it is open and marks the runner
// stopped. Called exactly once per Run.
func (r *Runner) stop() {
	r.setState(StateStopping)
	if r.opened {
		r.opened = false
		if err := r.conn.Close(); err != nil {
			r.logger.Warn("connector close failed", logging.Error(err))
		}
	}
	r.setState(StateStopped)
	r.logger.Info("source stopped")
}

// open establishes the connector session, retrying under exponential
// backoff. ConfigError is fatal immediately; AuthError is retried up to
// the configured cap; everything else retries indefinitely until ctx is
// cancelled.
func (r *Runner) open(ctx context.Context) error {
	r.setState(StateStarting)

	bo := newOpenBackoff(r.cfg)
	authFailures := 0
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++

		err := r.conn.Open(ctx)
		if err == nil {
			r.opened = true
			r.setState(StateRunning)
			r.logger.Info("source connected", logging.Attempt(attempt))
			return nil
		}

		var cfgErr *source.ConfigError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("source %s: fatal configuration error: %w", r.conn.Name(), err)
		}

		var authErr *source.AuthError
		if errors.As(err, &authErr) {
			authFailures++
			if authFailures >= r.cfg.MaxAuthRetries {
				return fmt.Errorf("source %s: authentication failed %d times, giving up: %w",
					r.conn.Name(), authFailures, err)
			}
		}

		delay := bo.NextBackOff()
		metrics.OpenRetries.WithLabelValues(r.conn.Name(), r.conn.Kind()).Inc()
		r.setState(StateRetrying)
		r.logger.Warn("connector open failed, retrying",
			logging.Error(err),
			logging.Attempt(attempt),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		r.setState(StateStarting)
	}
}

// reopen closes the current handle and runs the open sequence again.
// Used when repeated fetch failures or a dropped connection make the
// session unusable.
func (r *Runner) reopen(ctx context.Context) error {
	if r.opened {
		r.opened = false
		if err := r.conn.Close(); err != nil {
			r.logger.Warn("connector close failed", logging.Error(err))
		}
	}
	return r.open(ctx)
}

// pollLoop runs fetch cycles on a fixed interval. The first cycle runs
// immediately.
func (r *Runner) pollLoop(ctx context.Context, poller source.Poller) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("polling started", slog.Duration(logging.FieldInterval, r.cfg.Interval))

	failures := 0
	for {
		if err := r.pollCycle(ctx, poller); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			var cfgErr *source.ConfigError
			if errors.As(err, &cfgErr) {
				return fmt.Errorf("source %s: fatal configuration error: %w", r.conn.Name(), err)
			}

			metrics.FetchErrors.WithLabelValues(r.conn.Name(), r.conn.Kind()).Inc()
			failures++
			r.logger.Error("fetch cycle failed", logging.Error(err), slog.Int("consecutive_failures", failures))

			var connErr *source.ConnectionError
			if errors.As(err, &connErr) || failures >= r.cfg.MaxConsecutiveFailures {
				if err := r.reopen(ctx); err != nil {
					return err
				}
				failures = 0
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// pollCycle performs one fetch: read the marker, fetch new records, push
// envelopes in fetch order, then advance the marker. The marker is
// advanced only after every push succeeded, so a failure mid-cycle
// re-delivers rather than loses (at-least-once).
func (r *Runner) pollCycle(ctx context.Context, poller source.Poller) error {
	marker, err := r.store.Get(ctx, r.conn.Name())
	if err != nil {
		return &source.TransientError{Source: r.conn.Name(), Err: err}
	}

	start := time.Now()
	records, next, err := poller.Fetch(ctx, marker)
	metrics.FetchDuration.WithLabelValues(r.conn.Name(), r.conn.Kind()).Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	if err := r.emit(ctx, records); err != nil {
		return err
	}

	if next != nil {
		if err := r.store.Advance(ctx, r.conn.Name(), next); err != nil {
			return &source.TransientError{Source: r.conn.Name(), Err: err}
		}
	}
	return nil
}

// subscribeLoop blocks on Receive and forwards each message as it
// arrives. A dropped subscription reopens under backoff and resubscribes.
func (r *Runner) subscribeLoop(ctx context.Context, sub source.Subscriber) error {
	r.logger.Info("subscription started")

	for {
		rec, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			var cfgErr *source.ConfigError
			if errors.As(err, &cfgErr) {
				return fmt.Errorf("source %s: fatal configuration error: %w", r.conn.Name(), err)
			}

			metrics.FetchErrors.WithLabelValues(r.conn.Name(), r.conn.Kind()).Inc()
			var connErr *source.ConnectionError
			if errors.As(err, &connErr) {
				r.logger.Warn("subscription dropped, reconnecting", logging.Error(err))
				if err := r.reopen(ctx); err != nil {
					return err
				}
				continue
			}

			r.logger.Error("receive failed", logging.Error(err))
			continue
		}

		if err := r.emit(ctx, []source.RawRecord{rec}); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.logger.Error("envelope push failed", logging.Error(err))
		}
	}
}

// emit maps records to envelopes and pushes them in order. Empty
// envelopes are skipped; a sink-full condition aborts the cycle so the
// marker is not advanced past undelivered records.
func (r *Runner) emit(ctx context.Context, records []source.RawRecord) error {
	now := time.Now()
	for _, rec := range records {
		env := r.conn.Envelope(rec)
		if env.Empty() {
			continue
		}
		env = env.Stamp(r.conn.Name(), r.conn.Kind(), now)

		if err := r.sink.Push(ctx, env); err != nil {
			if errors.Is(err, sink.ErrSinkFull) {
				return &source.TransientError{Source: r.conn.Name(), Err: err}
			}
			return err
		}
		metrics.EventsEmitted.WithLabelValues(r.conn.Name(), r.conn.Kind()).Inc()
	}
	return nil
}
