package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/webserver/core/poller"
	"github.com/searchktools/webserver/core/sockets"
)

// Listener accepts connections on one socket and hands them to its
// servers in turn. It runs on its own goroutine and never touches
// connection I/O after registration.
type Listener struct {
	sockets.Socket

	limits      Limits
	opts        options
	poll        *poller.Poll
	pollTimeout int
	log         *logrus.Entry

	mu       sync.Mutex
	handlers []*Server
	current  int

	accepted atomic.Uint64
	refused  atomic.Uint64
}

// NewListener creates a closed listener. Call Open before Run.
func NewListener(limits Limits, opts ...Option) *Listener {
	o := buildOptions(opts)
	l := &Listener{
		limits:      limits.withDefaults(),
		opts:        o,
		pollTimeout: millis(o.pollTimeout),
		log:         o.log.WithField("component", "listener"),
	}
	l.Init(sockets.InvalidFd)
	return l
}

// CreateListener opens a listener, retrying a few times a second apart
// while the address is still held by a previous process.
func CreateListener(host string, port uint16, backlog int, limits Limits, opts ...Option) (*Listener, error) {
	limits = limits.withDefaults()
	if backlog >= limits.MaxConnects {
		return nil, fmt.Errorf("%w: backlog %d, max connects %d", ErrBacklogTooLarge, backlog, limits.MaxConnects)
	}

	l := NewListener(limits, opts...)
	var errs []error
	for attempt := 1; attempt <= listenAttempts; attempt++ {
		err := l.Open(host, port, backlog)
		if err == nil {
			return l, nil
		}
		errs = append(errs, err)
		l.log.WithError(err).Warnf("listen attempt %d of %d failed", attempt, listenAttempts)
		if attempt < listenAttempts {
			time.Sleep(listenRetryDelay)
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrListenerOpen, errors.Join(errs...))
}

// Open binds and listens on host:port and registers for read and error
// readiness. On failure nothing stays open.
func (l *Listener) Open(host string, port uint16, backlog int) (err error) {
	addr, err := sockets.ResolveSocketAddress(host, port)
	if err != nil {
		return err
	}

	fd, err := sockets.OpenStream()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			l.cleanup()
		}
	}()
	l.Init(fd)

	if err = fd.SetNonBlocking(); err != nil {
		return err
	}
	if err = fd.SetReuseAddress(); err != nil {
		return err
	}

	l.poll = l.opts.poll
	if l.poll == nil {
		if l.poll, err = poller.New(fd.Int()+1, poller.WithLogger(l.log)); err != nil {
			return err
		}
	}

	if err = fd.Bind(addr); err != nil {
		return err
	}
	if err = fd.Listen(backlog); err != nil {
		return err
	}

	l.SetState(poller.Listening)
	if err = l.poll.Open(l); err != nil {
		return err
	}
	if err = l.poll.InsertRead(l); err != nil {
		return err
	}
	if err = l.poll.InsertError(l); err != nil {
		return err
	}

	local, _ := fd.LocalAddress()
	l.log = l.log.WithField("addr", local.String())
	l.log.Infof("listening on %s poll, backlog %d", l.poll.Backend(), backlog)
	return nil
}

func (l *Listener) cleanup() {
	if l.poll != nil {
		l.poll.RemoveAll(l)
		l.poll.Close(l)
		if l.opts.poll == nil {
			l.poll.Shutdown()
		}
		l.poll = nil
	}
	l.CloseDescriptor()
	l.SetState(poller.Inactive)
}

// AddHandler appends a server to the rotation and restarts it from the
// first server
func (l *Listener) AddHandler(s *Server) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, s)
	l.current = 0
}

func (l *Listener) Handlers() []*Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Server(nil), l.handlers...)
}

// next returns the server for the next accepted connection and advances
// the rotation
func (l *Listener) next() *Server {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.handlers) == 0 {
		return nil
	}
	s := l.handlers[l.current]
	l.current = (l.current + 1) % len(l.handlers)
	return s
}

// EventRead accepts until the backlog is empty
func (l *Listener) EventRead() {
	for {
		fd, addr, err := l.Fd().Accept()
		if err != nil {
			l.log.WithError(err).Warn("accept failed")
			return
		}
		if !fd.IsValid() {
			return
		}
		l.dispatch(fd, addr)
	}
}

func (l *Listener) dispatch(fd sockets.SocketFd, addr sockets.SocketAddress) {
	s := l.next()
	if s == nil {
		l.log.WithError(ErrNoHandlers).Warn("dropping accepted connection")
		fd.Close()
		return
	}

	if _, err := Accept(s, fd, addr); err != nil {
		l.refused.Add(1)
		l.log.WithError(err).WithField("server", s.ID()).Warn("connection refused")
		return
	}
	l.accepted.Add(1)
}

func (l *Listener) EventWrite() {
	panic("core: listener does not support writes")
}

// EventError closes the listener; Run returns on its next iteration
func (l *Listener) EventError() {
	l.log.Error("listener received an error event")
	l.Close()
}

// Run polls until ctx is done or the listener is closed, then closes it
func (l *Listener) Run(ctx context.Context) error {
	if l.poll == nil {
		return fmt.Errorf("%w: not open", ErrListenerOpen)
	}
	defer l.Close()

	for ctx.Err() == nil && l.State() == poller.Listening {
		if _, err := l.poll.DoPoll(l.pollTimeout); err != nil {
			return fmt.Errorf("core: listener poll: %w", err)
		}
		l.poll.Perform()
	}
	return nil
}

// Address is the bound address, useful after listening on port 0
func (l *Listener) Address() (sockets.SocketAddress, error) {
	return l.LocalAddress()
}

// Accepted and Refused count connections handed to servers and rejected
func (l *Listener) Accepted() uint64 { return l.accepted.Load() }
func (l *Listener) Refused() uint64  { return l.refused.Load() }

// Close stops accepting and releases the socket and poll
func (l *Listener) Close() {
	if !l.TryClose() {
		return
	}
	if l.poll != nil {
		if err := l.poll.RemoveAll(l); err != nil {
			l.log.WithError(err).Warn("cannot withdraw interest")
		}
		l.poll.Close(l)
	}
	l.CloseDescriptor()
	if l.poll != nil {
		l.poll.Shutdown()
	}
	l.log.Info("listener closed")
}
