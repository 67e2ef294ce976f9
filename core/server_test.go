package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/webserver/core/poller"
	"github.com/searchktools/webserver/core/pools"
	"github.com/searchktools/webserver/core/sockets"
)

func checkSubset(t *testing.T, s *Server) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity.Ascend(func(c *Connection) bool {
		if !s.live.Has(c) {
			t.Errorf("Connection %d is active but not live", c.ID())
		}
		return true
	})
}

func TestServer_ConnectionSetInvariant(t *testing.T) {
	s, _ := newSimServer(t, 10, nil)

	var conns []*Connection
	for i := 0; i < 4; i++ {
		c, _ := acceptPair(t, s)
		conns = append(conns, c)
	}

	steps := []struct {
		name string
		do   func()
	}{
		{"activate two", func() { s.ActivityOn(conns[0]); s.ActivityOn(conns[2]) }},
		{"activate again", func() { s.ActivityOn(conns[0]) }},
		{"delete active", func() { s.DeleteConnection(conns[0]) }},
		{"activate deleted", func() { s.ActivityOn(conns[0]) }},
		{"close active", func() { conns[2].Close() }},
		{"activate closed", func() { s.ActivityOn(conns[2]) }},
		{"activate rest", func() { s.ActivityOn(conns[1]); s.ActivityOn(conns[3]) }},
	}
	for _, step := range steps {
		step.do()
		checkSubset(t, s)
	}

	if s.ActiveConnections() != 2 {
		t.Errorf("Expected 2 live connections, got %d", s.ActiveConnections())
	}
	if s.PendingActivity() != 2 {
		t.Errorf("Expected 2 active connections, got %d", s.PendingActivity())
	}
	if s.HasConnection(conns[2]) || s.IsActive(conns[2]) {
		t.Errorf("Expected closed connection in neither set")
	}

	// Activity pops in descriptor order and each connection once.
	first, _ := s.GetActiveConnection()
	second, _ := s.GetActiveConnection()
	if first == second || first.Handle() > second.Handle() {
		t.Errorf("Expected distinct connections in descriptor order, got %d then %d", first.Handle(), second.Handle())
	}
	if _, ok := s.GetActiveConnection(); ok {
		t.Errorf("Expected the activity set to be empty")
	}
	if !s.HasConnection(first) {
		t.Errorf("Expected popping activity to keep the connection live")
	}
}

func TestServer_UnregisteredConnectionIsIgnored(t *testing.T) {
	s, _ := newSimServer(t, 10, nil)
	fd, _ := socketPair(t)
	defer fd.Close()
	c := newConnection(s, fd, Incoming, sockets.SocketAddress{})

	s.ActivityOn(c)
	s.DeleteConnection(c)
	if s.PendingActivity() != 0 || s.ActiveConnections() != 0 {
		t.Errorf("Expected an unregistered connection to leave the sets empty")
	}
}

func TestServer_CapacityEnforced(t *testing.T) {
	rec := &testRecorder{}
	s, _ := newSimServer(t, 2, rec)

	acceptPair(t, s)
	acceptPair(t, s)

	fd, peer := socketPair(t)
	if _, err := Accept(s, fd, sockets.SocketAddress{}); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("Expected ErrTooManyConnections, got %v", err)
	}
	if s.ActiveConnections() != 2 {
		t.Errorf("Expected live set to stay at 2, got %d", s.ActiveConnections())
	}

	got := peerRead(t, peer, 1024)
	if !strings.HasPrefix(got, "HTTP/1.1 503 Too Many Connections\r\nConnection: close\r\n") {
		t.Errorf("Expected a 503 response, got %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n503 Too Many Connections") {
		t.Errorf("Expected the default 503 body, got %q", got)
	}

	servedMsgs := rec.Served()
	if len(servedMsgs) != 1 || servedMsgs[0].timed {
		t.Errorf("Expected one untimed served sample, got %+v", servedMsgs)
	}
}

func TestServer_ConcurrentNewConnectionNeverExceedsLimit(t *testing.T) {
	const limit = 5
	s, _ := newSimServer(t, limit, nil)

	var conns []*Connection
	for i := 0; i < limit*2; i++ {
		fd, _ := socketPair(t)
		conns = append(conns, newConnection(s, fd, Incoming, sockets.SocketAddress{}))
		t.Cleanup(func() { fd.Close() })
	}

	errs := make(chan error, len(conns))
	for _, c := range conns {
		c := c
		go func() { errs <- s.NewConnection(c) }()
	}
	refused := 0
	for range conns {
		if err := <-errs; errors.Is(err, ErrTooManyConnections) {
			refused++
		}
	}

	if s.ActiveConnections() != limit {
		t.Errorf("Expected %d live connections, got %d", limit, s.ActiveConnections())
	}
	if refused != limit {
		t.Errorf("Expected %d refusals, got %d", limit, refused)
	}
	for _, c := range conns {
		s.DeleteConnection(c)
	}
}

func TestServer_CloseClosesConnections(t *testing.T) {
	p, sim := poller.NewSimulated(16)
	s, err := NewServer(Limits{MaxConnects: 4, ConnectionTimeout: time.Second}, nil, WithPoll(p))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	before := LiveServers()

	c1, _ := acceptPair(t, s)
	c2, _ := acceptPair(t, s)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	if c1.State() != poller.Closing || c2.State() != poller.Closing {
		t.Errorf("Expected every connection to be closing")
	}
	if !sim.Closed() {
		t.Errorf("Expected the poll to be shut down")
	}
	if LiveServers() != before-1 {
		t.Errorf("Expected live servers %d, got %d", before-1, LiveServers())
	}

	fd, _ := socketPair(t)
	stats := pools.GlobalStats()
	if _, err := Accept(s, fd, sockets.SocketAddress{}); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
	after := pools.GlobalStats()
	if gets, puts := after.Gets-stats.Gets, after.Puts-stats.Puts; gets != 1 || puts != 1 {
		t.Errorf("Expected the rejected connection's buffer back in the pool, got %d gets and %d puts", gets, puts)
	}
}

func TestDefaultLimits(t *testing.T) {
	l := DefaultLimits()
	if l.MaxConnects != 1000 || l.ConnectionTimeout != 10*time.Second {
		t.Errorf("Expected 1000 / 10s, got %d / %s", l.MaxConnects, l.ConnectionTimeout)
	}
	if got := (Limits{}).withDefaults(); got != l {
		t.Errorf("Expected zero limits to take the defaults, got %+v", got)
	}
}
