package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/webserver/config"
	"github.com/searchktools/webserver/core"
	"github.com/searchktools/webserver/core/observability"
	"github.com/searchktools/webserver/core/pools"
)

var ErrNotStarted = errors.New("app: not started")

// App wires configuration, logging, statistics and the worker pool
type App struct {
	cfg    *config.Config
	logger *logrus.Logger
	log    *logrus.Entry

	status   *observability.Status
	registry *prometheus.Registry
	pool     *core.WorkerPool
	manager  *config.Manager

	mu      sync.Mutex
	group   *errgroup.Group
	cancel  context.CancelFunc
	metrics net.Listener
	gc      pools.GCConfig
}

// New creates an application instance serving handler
func New(cfg *config.Config, handler core.Handler) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger()
	root := logrus.NewEntry(logger).WithField("env", cfg.Env)
	core.SetLogger(root)

	a := &App{
		cfg:     cfg,
		logger:  logger,
		log:     root.WithField("component", "app"),
		manager: config.NewManager(),
	}

	statusOpts := []observability.Option{observability.WithLogger(root)}
	if cfg.MetricsAddr != "" {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := observability.NewMetrics(a.registry)
		if err != nil {
			return nil, err
		}
		statusOpts = append(statusOpts, observability.WithMetrics(m))
	}
	a.status = observability.NewStatus(statusOpts...)
	if a.registry != nil {
		if err := observability.RegisterRates(a.registry, a.status); err != nil {
			return nil, err
		}
	}

	a.pool = core.NewWorkerPool(core.PoolConfig{
		Host:    cfg.Host,
		Port:    uint16(cfg.Port),
		Backlog: cfg.Backlog,
		Workers: cfg.Workers,
		Limits: core.Limits{
			MaxConnects:       cfg.MaxConnects,
			ConnectionTimeout: cfg.ConnectionTimeout,
		},
		PollTimeout:         cfg.PollTimeout,
		ListenerPollTimeout: cfg.ListenerPollTimeout,
		ReadChunk:           cfg.ReadChunk,
		Logger:              root,
	}, handler, a.status)

	return a, nil
}

func (a *App) Status() *observability.Status { return a.status }

func (a *App) Pool() *core.WorkerPool { return a.pool }

func (a *App) Logger() *logrus.Logger { return a.logger }

// Run starts the application and blocks until SIGINT, SIGTERM or a fatal
// error
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.Wait()
}

// Start opens the listener and the metrics endpoint and runs everything in
// the background until ctx is done or Stop is called.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.gc = pools.GCConfig{GOGC: a.cfg.GOGC, MemoryLimit: a.cfg.MemoryLimit}.Apply()

	ctx, cancel := context.WithCancel(ctx)
	if err := a.pool.Start(ctx); err != nil {
		cancel()
		a.gc.Restore()
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.status.Run(gctx) })
	g.Go(a.pool.Wait)
	g.Go(func() error {
		<-gctx.Done()
		a.pool.Stop()
		return nil
	})

	if a.registry != nil {
		ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
		if err != nil {
			cancel()
			g.Wait()
			a.gc.Restore()
			return fmt.Errorf("app: metrics listener: %w", err)
		}
		a.metrics = ln
		a.serveMetrics(gctx, g, ln)
	}

	if a.cfg.ConfigFile != "" {
		if err := a.watchConfig(gctx, g); err != nil {
			cancel()
			g.Wait()
			a.gc.Restore()
			return err
		}
	}

	a.group = g
	a.cancel = cancel
	addr, _ := a.pool.Address()
	a.log.Infof("serving on %s with %d workers [%s]", addr, a.cfg.Workers, a.cfg.Env)
	return nil
}

func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	srv := &fasthttp.Server{
		Handler: func(rc *fasthttp.RequestCtx) {
			if string(rc.Path()) == statusPath {
				a.serveStatus(rc)
				return
			}
			metrics(rc)
		},
		Name:                  "webserver-metrics",
		NoDefaultServerHeader: true,
	}

	g.Go(func() error {
		a.log.WithField("addr", ln.Addr().String()).Info("metrics endpoint listening")
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-ctx.Done()
		err := srv.Shutdown()
		// Serve may not have taken the listener yet.
		ln.Close()
		return err
	})
}

const (
	statusPath   = "/status"
	protobufType = "application/x-protobuf"
)

// serveStatus writes the statistics snapshot as JSON, or as an encoded
// protobuf Struct when the client accepts application/x-protobuf
func (a *App) serveStatus(rc *fasthttp.RequestCtx) {
	snapshot := a.status.Snapshot()

	var (
		body []byte
		err  error
	)
	if strings.Contains(string(rc.Request.Header.Peek(fasthttp.HeaderAccept)), protobufType) {
		body, err = snapshot.MarshalBinary()
		rc.SetContentType(protobufType)
	} else {
		body, err = snapshot.JSON()
		rc.SetContentType("application/json")
	}
	if err != nil {
		a.log.WithError(err).Warn("cannot encode status snapshot")
		rc.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	rc.SetBody(body)
}

// watchConfig applies log level changes of the configuration file while
// the application runs
func (a *App) watchConfig(ctx context.Context, g *errgroup.Group) error {
	if err := a.manager.LoadFromJSON(a.cfg.ConfigFile); err != nil {
		return err
	}
	a.manager.OnChange("log_level", func(_ string, value interface{}) {
		level, err := logrus.ParseLevel(fmt.Sprint(value))
		if err != nil {
			a.log.WithError(err).Warn("ignoring log level change")
			return
		}
		a.logger.SetLevel(level)
		a.log.Infof("log level set to %s", level)
	})

	g.Go(func() error {
		return a.manager.Watch(ctx, a.cfg.ConfigFile, func(err error) {
			if err != nil {
				a.log.WithError(err).Warn("config reload failed")
			}
		})
	})
	return nil
}

// MetricsAddress is the bound metrics endpoint, empty when disabled
func (a *App) MetricsAddress() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.metrics == nil {
		return ""
	}
	return a.metrics.Addr().String()
}

// Stop asks every component to finish; Wait returns once they have
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.log.Info("shutting down")
		a.cancel()
	}
}

// Wait blocks until the application stopped and logs the final statistics
func (a *App) Wait() error {
	a.mu.Lock()
	g := a.group
	a.mu.Unlock()
	if g == nil {
		return ErrNotStarted
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	a.gc.Restore()

	a.log.Infof("final pool statistics\n%s", a.pool.Stats())
	a.log.Infof("final request statistics\n%s", a.status.Snapshot())
	return err
}
