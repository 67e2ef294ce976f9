package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/searchktools/webserver/core/poller"
)

var (
	liveServers atomic.Int64
	serverIDs   atomic.Uint64
)

// LiveServers returns the number of servers created and not yet closed
func LiveServers() int64 { return liveServers.Load() }

// connectionLess orders connections by the descriptor they were created
// with, then by id, so a reused descriptor never collides.
func connectionLess(a, b *Connection) bool {
	if a.handle != b.handle {
		return a.handle < b.handle
	}
	return a.id < b.id
}

// Server owns one poll and the connections registered on it. A server is
// driven by a single worker goroutine; only NewConnection is expected from
// the listener goroutine.
type Server struct {
	id       uint64
	limits   Limits
	poll     *poller.Poll
	recorder StatsRecorder
	chunk    int
	log      *logrus.Entry

	mu       sync.Mutex
	live     *btree.BTreeG[*Connection]
	activity *btree.BTreeG[*Connection]
	closed   bool
}

// NewServer creates a server whose poll is sized for limits.MaxConnects
// plus some headroom. A nil recorder discards statistics.
func NewServer(limits Limits, recorder StatsRecorder, opts ...Option) (*Server, error) {
	o := buildOptions(opts)
	limits = limits.withDefaults()
	if recorder == nil {
		recorder = NopRecorder{}
	}

	s := &Server{
		id:       serverIDs.Add(1),
		limits:   limits,
		poll:     o.poll,
		recorder: recorder,
		chunk:    o.readChunk,
		live:     btree.NewG[*Connection](8, connectionLess),
		activity: btree.NewG[*Connection](8, connectionLess),
	}
	s.log = o.log.WithFields(logrus.Fields{"component": "server", "server": s.id})

	if s.poll == nil {
		p, err := poller.New(limits.MaxConnects+pollHeadroom, poller.WithLogger(s.log))
		if err != nil {
			return nil, fmt.Errorf("core: server poll: %w", err)
		}
		s.poll = p
	}

	liveServers.Add(1)
	s.log.Debugf("server created on %s poll", s.poll.Backend())
	return s, nil
}

func (s *Server) ID() uint64 { return s.id }

func (s *Server) Limits() Limits { return s.limits }

func (s *Server) Poll() *poller.Poll { return s.poll }

func (s *Server) ConnectionTimeout() time.Duration { return s.limits.ConnectionTimeout }

// NewConnection registers c, failing with ErrTooManyConnections at capacity
func (s *Server) NewConnection(c *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.live.Len() >= s.limits.MaxConnects {
		return ErrTooManyConnections
	}
	s.live.ReplaceOrInsert(c)
	return nil
}

// DeleteConnection drops c from the live and activity sets. Unknown
// connections are ignored.
func (s *Server) DeleteConnection(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live.Delete(c)
	s.activity.Delete(c)
}

// ActivityOn marks c as holding unretrieved messages. Connections that are
// not live are ignored so the activity set stays a subset of the live set.
func (s *Server) ActivityOn(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live.Has(c) || s.activity.Has(c) {
		return
	}
	s.activity.ReplaceOrInsert(c)
}

// GetActiveConnection pops one connection from the activity set in
// descriptor order
func (s *Server) GetActiveConnection() (*Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.DeleteMin()
}

// ActiveConnections is the number of live connections
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Len()
}

// PendingActivity is the number of connections waiting to be served
func (s *Server) PendingActivity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.Len()
}

func (s *Server) HasConnection(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.Has(c)
}

func (s *Server) IsActive(c *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activity.Has(c)
}

// Connections returns the live connections in descriptor order
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connection, 0, s.live.Len())
	s.live.Ascend(func(c *Connection) bool {
		out = append(out, c)
		return true
	})
	return out
}

// Perform waits up to msec milliseconds and dispatches what became ready
func (s *Server) Perform(msec int) error {
	if _, err := s.poll.DoPoll(msec); err != nil {
		return fmt.Errorf("core: server %d poll: %w", s.id, err)
	}
	s.poll.Perform()
	return nil
}

// Close closes every live connection and releases the poll. It is safe to
// call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, c := range s.Connections() {
		c.Close()
	}

	liveServers.Add(-1)
	s.log.Debug("server closed")
	return s.poll.Shutdown()
}
