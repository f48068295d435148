package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-recognizer/internal/bus"
	"github.com/loqalabs/loqa-recognizer/internal/capability"
	"github.com/loqalabs/loqa-recognizer/internal/config"
	"github.com/loqalabs/loqa-recognizer/internal/engine"
	"github.com/loqalabs/loqa-recognizer/internal/engine/backend"
	"github.com/loqalabs/loqa-recognizer/internal/eventstore"
	"github.com/loqalabs/loqa-recognizer/internal/natsserver"
	"github.com/loqalabs/loqa-recognizer/internal/recognizer"
)

type Runtime struct {
	cfg          config.Config
	logger       *slog.Logger
	eng          engine.Engine
	recognizerID string

	store    *eventstore.Store
	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	rec      *recognizer.Recognizer
	registry *capability.Registry
	hub      *Hub
	metrics  http.Handler

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
}

type Option func(*Runtime)

// WithEngine replaces the engine built from configuration.
func WithEngine(e engine.Engine) Option {
	return func(r *Runtime) { r.eng = e }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:          cfg,
		logger:       logger,
		recognizerID: uuid.NewString(),
		hub:          NewHub(logger.With(slog.String("component", "websocket"))),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.metrics = metricsHandler

	if err := r.open(ctx); err != nil {
		r.close()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if bind := r.cfg.Telemetry.PrometheusBind; r.metrics != nil && bind != "" && bind != addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", r.metrics)
		r.metricsServer = &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := r.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	if r.cfg.Listener.Enabled {
		g.Go(func() error {
			r.listen(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
		if r.metricsServer != nil {
			if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("metrics shutdown error", slogError(err))
			}
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("recognizer_id", r.recognizerID),
		slog.Bool("listener", r.cfg.Listener.Enabled))

	err = g.Wait()
	r.close()
	return err
}

// open brings up storage, the bus, the recognizer and node presence, in
// that order.
func (r *Runtime) open(ctx context.Context) error {
	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger.With(slog.String("component", "eventstore")))
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		srv, err := natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
		if err != nil {
			return err
		}
		r.nats = srv
		if srv != nil {
			busCfg.Servers = []string{srv.ClientURL()}
		}
		client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger.With(slog.String("component", "bus")))
		if err != nil {
			return err
		}
		r.bus = client
		if err := client.EnsureTranscriptStream(); err != nil {
			r.logger.Warn("transcript stream unavailable", slogError(err))
		}
	}

	if r.eng == nil {
		eng, err := backend.New(r.cfg, r.logger.With(slog.String("component", "engine")))
		if err != nil {
			return fmt.Errorf("build engine: %w", err)
		}
		r.eng = eng
	}

	models := r.cfg.Recognizer.Models()
	rec, err := recognizer.New(ctx, r.eng, models,
		recognizer.WithID(r.recognizerID),
		recognizer.WithTimeout(r.cfg.Recognizer.Timeout()),
		recognizer.WithLogger(r.logger),
		recognizer.WithObserver(r.observe),
	)
	if err != nil {
		return fmt.Errorf("create recognizer: %w", err)
	}
	r.rec = rec

	if err := r.store.AppendRecognizer(ctx, eventstore.RecognizerRecord{
		ID:     r.recognizerID,
		HMM:    models.HMM,
		LM:     models.LM,
		Dict:   models.Dict,
		Engine: r.cfg.Engine.Mode,
	}); err != nil {
		r.logger.Warn("failed to record recognizer", slogError(err))
	}

	if r.bus != nil && r.cfg.Presence.Enabled {
		registry, err := capability.NewRegistry(ctx, capability.Local{
			ID:           r.recognizerID,
			Role:         r.cfg.Presence.Role,
			Capabilities: []capability.Capability{capability.Speech(r.cfg.Engine.Mode, models)},
			State:        func() string { return rec.State().String() },
		}, r.cfg.Presence, r.bus, r.logger)
		if err != nil {
			r.logger.Warn("node presence unavailable", slogError(err))
		} else {
			r.registry = registry
		}
	}
	return nil
}

// close releases everything open acquired, in reverse order.
func (r *Runtime) close() {
	r.hub.Close()
	if r.rec != nil {
		if err := r.rec.Destroy(); err != nil {
			r.logger.Error("recognizer teardown error", slogError(err))
		}
	}
	if r.registry != nil {
		r.registry.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	}
	if r.tracerClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
