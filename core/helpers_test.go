package core

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/searchktools/webserver/core/http"
	"github.com/searchktools/webserver/core/poller"
	"github.com/searchktools/webserver/core/sockets"
)

func init() {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	SetLogger(logrus.NewEntry(logger))
}

type served struct {
	code  http.Code
	timed bool
	wire  string
}

type testRecorder struct {
	mu       sync.Mutex
	incoming []int
	served   []served
}

func (r *testRecorder) IncomingRequest(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = append(r.incoming, n)
}

func (r *testRecorder) ServedRequest(msg *http.OutgoingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, timed := msg.Timer()
	r.served = append(r.served, served{code: msg.ResponseCode(), timed: timed, wire: string(msg.Bytes())})
}

func (r *testRecorder) Served() []served {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]served(nil), r.served...)
}

func newSimServer(t *testing.T, maxConnects int, rec StatsRecorder) (*Server, *poller.Simulator) {
	t.Helper()
	p, sim := poller.NewSimulated(maxConnects + pollHeadroom)
	s, err := NewServer(Limits{MaxConnects: maxConnects, ConnectionTimeout: time.Second}, rec, WithPoll(p))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, sim
}

// socketPair returns the local end for a Connection and the peer end the
// test talks through. The peer blocks for at most two seconds on reads.
func socketPair(t *testing.T) (sockets.SocketFd, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	peer := sockets.SocketFd(fds[1])
	if err := peer.SetReceiveTimeout(2 * time.Second); err != nil {
		t.Fatalf("SetReceiveTimeout failed: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return sockets.SocketFd(fds[0]), fds[1]
}

func acceptPair(t *testing.T, s *Server) (*Connection, int) {
	t.Helper()
	fd, peer := socketPair(t)
	c, err := Accept(s, fd, sockets.SocketAddress{})
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	return c, peer
}

func peerWrite(t *testing.T, peer int, data string) {
	t.Helper()
	if _, err := unix.Write(peer, []byte(data)); err != nil {
		t.Fatalf("peer write failed: %v", err)
	}
}

// peerRead reads until n bytes arrived, the peer sees EOF or the read times out
func peerRead(t *testing.T, peer int, n int) string {
	t.Helper()
	buf := make([]byte, 0, n)
	chunk := make([]byte, 4096)
	for len(buf) < n {
		m, err := unix.Read(peer, chunk)
		if err != nil || m <= 0 {
			break
		}
		buf = append(buf, chunk[:m]...)
	}
	return string(buf)
}

// deliver marks c ready and runs one poll round
func deliver(t *testing.T, s *Server, sim *poller.Simulator, c *Connection, mask poller.Interest) {
	t.Helper()
	sim.Ready(c.Handle(), mask)
	if err := s.Perform(0); err != nil {
		t.Fatalf("Perform failed: %v", err)
	}
}
