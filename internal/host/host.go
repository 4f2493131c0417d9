// Package host assembles the service: cursor store, sink, and one
// runner per configured source, plus the admin endpoint.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conresinc/cloin.eda/internal/config"
	"github.com/conresinc/cloin.eda/internal/cursor"
	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/logging"
	"github.com/conresinc/cloin.eda/internal/runner"
	"github.com/conresinc/cloin.eda/internal/sink"
)

// Host owns every long-lived component for one service instance.
type Host struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   cursor.Store
	sink    sink.Sink
	channel *sink.Channel
	runners []*runner.Runner
	names   []string
}

// New builds all components from configuration. Nothing is opened yet;
// connectors connect inside their runners when Run starts them.
func New(cfg *config.Config, specs []config.SourceSpec, logger *slog.Logger) (*Host, error) {
	h := &Host{cfg: cfg, logger: logger}

	store, err := newStore(cfg.Cursor)
	if err != nil {
		return nil, err
	}
	h.store = store

	if err := h.newSink(); err != nil {
		store.Close()
		return nil, err
	}

	base := runner.Config{
		BackoffBase:            cfg.Runner.BackoffBase,
		BackoffMax:             cfg.Runner.BackoffMax,
		MaxAuthRetries:         cfg.Runner.MaxAuthRetries,
		MaxConsecutiveFailures: cfg.Runner.MaxConsecutiveFailures,
	}
	for _, spec := range specs {
		conn, err := NewConnector(spec)
		if err != nil {
			h.closeInfra()
			return nil, err
		}

		rcfg := base
		if ic, ok := conn.(interface{ Interval() time.Duration }); ok {
			rcfg.Interval = ic.Interval()
		}
		h.runners = append(h.runners, runner.New(conn, h.store, h.sink, rcfg, logger))
		h.names = append(h.names, spec.Name)
	}

	return h, nil
}

func newStore(cfg config.CursorConfig) (cursor.Store, error) {
	switch cfg.Backend {
	case "memory":
		return cursor.NewMemory(), nil
	case "redis":
		return cursor.NewRedis(cfg.Redis.URL)
	case "postgres":
		return cursor.NewPostgres(context.Background(), cfg.Postgres.URL)
	default:
		return nil, fmt.Errorf("unknown cursor backend %q", cfg.Backend)
	}
}

func (h *Host) newSink() error {
	policy, err := sink.ParsePolicy(h.cfg.Sink.Overflow)
	if err != nil {
		return err
	}

	switch h.cfg.Sink.Type {
	case "channel":
		h.channel = sink.NewChannel(h.cfg.Sink.Buffer, policy)
		h.sink = h.channel
	case "nats":
		ncfg := sink.DefaultNATSConfig()
		ncfg.URL = h.cfg.Sink.NATS.URL
		ncfg.SubjectPrefix = h.cfg.Sink.NATS.SubjectPrefix
		ncfg.Timeout = h.cfg.Sink.NATS.Timeout
		n, err := sink.NewNATS(ncfg)
		if err != nil {
			return err
		}
		h.sink = n
	default:
		return fmt.Errorf("unknown sink type %q", h.cfg.Sink.Type)
	}
	return nil
}

// Events exposes the local event stream when the channel sink is
// configured, nil otherwise.
func (h *Host) Events() <-chan event.Envelope {
	if h.channel == nil {
		return nil
	}
	return h.channel.Events()
}

// Run starts every runner and the admin endpoint, then blocks until the
// context is cancelled. Shutdown is ordered: runners drain first, then
// the sink, then the cursor store.
func (h *Host) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	admin := h.startAdmin()

	var wg sync.WaitGroup
	for i, r := range h.runners {
		wg.Add(1)
		go func(name string, r *runner.Runner) {
			defer wg.Done()
			// A panicking connector must not take the process down.
			defer func() {
				if rec := recover(); rec != nil {
					h.logger.Error("source runner panicked",
						logging.Source(name),
						slog.Any("panic", rec))
				}
			}()
			if err := r.Run(runCtx); err != nil && runCtx.Err() == nil {
				h.logger.Error("source runner stopped",
					logging.Source(name),
					logging.Error(err))
			}
		}(h.names[i], r)
	}

	<-ctx.Done()
	h.logger.Info("shutting down")
	cancel()
	wg.Wait()
	h.closeInfra()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if admin != nil {
		admin.Shutdown(shutdownCtx)
	}
	return nil
}

func (h *Host) closeInfra() {
	if h.sink != nil {
		if err := h.sink.Close(); err != nil {
			h.logger.Warn("closing sink", logging.Error(err))
		}
		h.sink = nil
		h.channel = nil
	}
	if h.store != nil {
		if err := h.store.Close(); err != nil {
			h.logger.Warn("closing cursor store", logging.Error(err))
		}
		h.store = nil
	}
}

// startAdmin serves metrics and liveness. Port 0 disables it, which
// tests use to avoid binding.
func (h *Host) startAdmin() *http.Server {
	if h.cfg.Admin.Port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", h.cfg.Admin.Port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("admin server failed", logging.Error(err))
		}
	}()
	return srv
}
