package core

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/webserver/core/sockets"
)

// PoolConfig describes a listener and the workers behind it
type PoolConfig struct {
	Host    string
	Port    uint16
	Backlog int
	Workers int
	Limits  Limits

	PollTimeout         time.Duration
	ListenerPollTimeout time.Duration
	ReadChunk           int

	Logger *logrus.Entry
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	c.Limits = c.Limits.withDefaults()
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.ListenerPollTimeout <= 0 {
		c.ListenerPollTimeout = DefaultListenerPollTimeout
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = DefaultReadChunk
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
	return c
}

// WorkerPool runs one listener goroutine and a fixed set of worker
// goroutines, each owning one Server
type WorkerPool struct {
	cfg      PoolConfig
	handler  Handler
	recorder StatsRecorder
	log      *logrus.Entry

	mu       sync.Mutex
	listener *Listener
	workers  []*Worker
	group    *errgroup.Group
	cancel   context.CancelFunc
	started  time.Time
}

func NewWorkerPool(cfg PoolConfig, handler Handler, recorder StatsRecorder) *WorkerPool {
	cfg = cfg.withDefaults()
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &WorkerPool{
		cfg:      cfg,
		handler:  handler,
		recorder: recorder,
		log:      cfg.Logger.WithField("component", "pool"),
	}
}

// Start opens the listener, creates the workers and runs them until ctx is
// done or Stop is called. Any worker failing stops the whole pool.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return ErrPoolStarted
	}

	opts := []Option{
		WithLogger(p.cfg.Logger),
		WithReadChunk(p.cfg.ReadChunk),
		WithPollTimeout(p.cfg.ListenerPollTimeout),
	}
	listener, err := CreateListener(p.cfg.Host, p.cfg.Port, p.cfg.Backlog, p.cfg.Limits, opts...)
	if err != nil {
		return err
	}

	workers := make([]*Worker, 0, p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		server, err := NewServer(p.cfg.Limits, p.recorder, opts...)
		if err != nil {
			listener.Close()
			for _, w := range workers {
				w.Server().Close()
			}
			return err
		}
		listener.AddHandler(server)
		workers = append(workers, NewWorker(i, server, p.handler, millis(p.cfg.PollTimeout)))
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listener.Run(gctx) })
	for _, w := range workers {
		w := w
		g.Go(func() error { return w.Run(gctx) })
	}

	p.listener = listener
	p.workers = workers
	p.group = g
	p.cancel = cancel
	p.started = time.Now()
	p.log.Infof("started %d workers, max %d connections", len(workers), p.cfg.Limits.MaxConnects)
	return nil
}

// Stop asks every goroutine to finish. It does not wait; call Wait.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.log.Info("stopping workers")
		p.cancel()
	}
}

// Wait blocks until the listener and all workers have returned
func (p *WorkerPool) Wait() error {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()
	if g == nil {
		return ErrPoolNotStarted
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// ActiveConnections sums the live connections of every worker
func (p *WorkerPool) ActiveConnections() int {
	n := 0
	for _, w := range p.Workers() {
		n += w.Server().ActiveConnections()
	}
	return n
}

func (p *WorkerPool) Workers() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Worker(nil), p.workers...)
}

// Address is the bound listener address
func (p *WorkerPool) Address() (sockets.SocketAddress, error) {
	p.mu.Lock()
	l := p.listener
	p.mu.Unlock()
	if l == nil {
		return sockets.SocketAddress{}, ErrPoolNotStarted
	}
	return l.Address()
}
