package core

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/searchktools/webserver/core/buffer"
	"github.com/searchktools/webserver/core/http"
	"github.com/searchktools/webserver/core/poller"
	"github.com/searchktools/webserver/core/sockets"
)

// Direction tells who opened a connection
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

var connectionIDs atomic.Uint64

// Connection is one TCP peer served by a Server. All callbacks run on the
// owning server's worker goroutine.
type Connection struct {
	sockets.Socket

	id        uint64
	handle    int
	server    *Server
	direction Direction
	remote    sockets.SocketAddress
	chunk     int
	log       *logrus.Entry

	buffer  *buffer.ByteBuffer
	badData bool

	mu       sync.Mutex
	incoming *queue.Queue
	outgoing *queue.Queue
	timers   *queue.Queue

	persistent atomic.Bool
}

func newConnection(s *Server, fd sockets.SocketFd, dir Direction, remote sockets.SocketAddress) *Connection {
	c := &Connection{
		id:        connectionIDs.Add(1),
		handle:    fd.Int(),
		server:    s,
		direction: dir,
		remote:    remote,
		chunk:     s.chunk,
		buffer:    buffer.New(s.chunk),
		incoming:  queue.New(),
		outgoing:  queue.New(),
		timers:    queue.New(),
	}
	c.Init(fd)
	c.log = s.log.WithFields(logrus.Fields{
		"component": "connection",
		"fd":        c.handle,
		"peer":      remote.String(),
	})
	return c
}

func (c *Connection) ID() uint64 { return c.id }

// Handle is the descriptor the connection was created with. Unlike
// Descriptor it survives Close.
func (c *Connection) Handle() int { return c.handle }

func (c *Connection) Server() *Server { return c.server }

func (c *Connection) Direction() Direction { return c.direction }

// Peer is the remote address the connection was accepted from or made to
func (c *Connection) Peer() sockets.SocketAddress { return c.remote }

func (c *Connection) SetPersistence(persistent bool) { c.persistent.Store(persistent) }

func (c *Connection) IsPersistent() bool { return c.persistent.Load() }

// initialize opens the connection on the server's poll with read, write
// and error interest and marks it connected. A connection closed meanwhile
// stays closed and its registration is withdrawn.
func (c *Connection) initialize() error {
	from := c.State()
	if from != poller.Inactive && from != poller.Connecting {
		return ErrConnectionClosed
	}

	poll := c.server.Poll()
	if err := poll.Open(c); err != nil {
		return err
	}
	for _, insert := range []func(poller.Event) error{poll.InsertRead, poll.InsertWrite, poll.InsertError} {
		if err := insert(c); err != nil {
			return err
		}
	}
	if !c.Transition(from, poller.Connected) {
		if err := poll.RemoveAll(c); err != nil {
			c.log.WithError(err).Warn("cannot withdraw interest")
		}
		if err := poll.Close(c); err != nil {
			c.log.WithError(err).Warn("cannot close poll registration")
		}
		return ErrConnectionClosed
	}
	return nil
}

// EventRead appends what the socket has to the buffer and decodes it
func (c *Connection) EventRead() {
	if !c.IsConnected() {
		return
	}

	if c.buffer.Reserved() < c.chunk {
		c.buffer.Reserve(c.chunk - c.buffer.Reserved())
	}
	n, err := c.ReadStream(c.buffer.Tail()[:c.chunk])
	if err != nil {
		if errors.Is(err, sockets.ErrConnectionTerminated) {
			c.log.WithError(err).Debug("peer closed")
		} else {
			c.log.WithError(err).Warn("read failed")
		}
		c.Close()
		return
	}
	if n == 0 {
		return
	}
	c.buffer.AdjustLength(n)
	c.processRead()
}

// EventWrite flushes the outgoing queue. With nothing queued the write
// interest is withdrawn.
func (c *Connection) EventWrite() {
	if !c.IsConnected() {
		return
	}

	batch := c.takeOutgoing()
	if len(batch) == 0 {
		if err := c.server.Poll().RemoveWrite(c); err != nil {
			c.log.WithError(err).Warn("cannot withdraw write interest")
		}
		return
	}

	for i, msg := range batch {
		if !c.IsConnected() {
			releaseAll(batch[i:])
			return
		}
		if err := c.writeAll(msg.Bytes()); err != nil {
			c.log.WithError(err).Warn("write failed")
			releaseAll(batch[i:])
			c.Close()
			return
		}

		c.afterWrite(msg)
		persistent := msg.IsPersistent()
		msg.Release()
		if !persistent {
			releaseAll(batch[i+1:])
			c.Close()
			return
		}
	}
}

// EventError closes the connection. An error on an inactive connection
// means the poll and the connection disagree, which is not recoverable.
func (c *Connection) EventError() {
	if c.State() == poller.Inactive {
		panic("core: error event on an inactive connection")
	}
	c.log.Warn("poll reports network error")
	c.Close()
}

// Close deregisters the connection and releases its descriptor. Only the
// first call has an effect; it is safe during a Perform dispatch.
func (c *Connection) Close() {
	if !c.TryClose() {
		return
	}

	c.server.DeleteConnection(c)
	poll := c.server.Poll()
	if err := poll.RemoveAll(c); err != nil {
		c.log.WithError(err).Warn("cannot withdraw interest")
	}
	if err := poll.Close(c); err != nil {
		c.log.WithError(err).Warn("cannot close poll registration")
	}
	if err := c.CloseDescriptor(); err != nil {
		c.log.WithError(err).Debug("close descriptor")
	}

	c.mu.Lock()
	releaseAll(drain[*http.OutgoingMessage](c.outgoing))
	drain[*http.IncomingMessage](c.incoming)
	drain[time.Time](c.timers)
	c.mu.Unlock()

	if c.buffer != nil {
		c.buffer.Release()
		c.buffer = nil
	}
	c.log.Debug("connection closed")
}

// GetMessages hands over every decoded message. It reports false when the
// connection is not connected or nothing is waiting.
func (c *Connection) GetMessages() ([]*http.IncomingMessage, bool) {
	if !c.IsConnected() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incoming.Length() == 0 {
		return nil, false
	}
	return drain[*http.IncomingMessage](c.incoming), true
}

// SendMessage serializes msg and queues it for the next write readiness.
// Responses without a timer inherit the receive time of the oldest
// unanswered request. The connection owns msg afterwards.
func (c *Connection) SendMessage(msg *http.OutgoingMessage) {
	if !c.IsConnected() {
		msg.Release()
		return
	}

	c.mu.Lock()
	if msg.Method() == http.MethodResponse && c.timers.Length() > 0 {
		received := c.timers.Remove().(time.Time)
		if _, ok := msg.Timer(); !ok {
			msg.SetTimer(received)
		}
	}
	msg.Serialize()
	c.outgoing.Add(msg)
	c.mu.Unlock()

	if err := c.server.Poll().InsertWrite(c); err != nil {
		c.log.WithError(err).Warn("cannot request write readiness")
	}
}

// Pending is the number of messages waiting to be written
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outgoing.Length()
}

func (c *Connection) pushIncoming(msg *http.IncomingMessage) {
	c.mu.Lock()
	c.incoming.Add(msg)
	c.timers.Add(msg.Received())
	c.mu.Unlock()
}

func (c *Connection) takeOutgoing() []*http.OutgoingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return drain[*http.OutgoingMessage](c.outgoing)
}

// writeAll retries would-block writes by yielding until the connection
// timeout passes. Messages are small, so this rarely spins.
func (c *Connection) writeAll(p []byte) error {
	var deadline time.Time
	for len(p) > 0 {
		n, err := c.WriteStream(p)
		if err != nil {
			return err
		}
		if n > 0 {
			p = p[n:]
			deadline = time.Time{}
			continue
		}
		if deadline.IsZero() {
			deadline = time.Now().Add(c.server.ConnectionTimeout())
		} else if time.Now().After(deadline) {
			return sockets.ErrConnectionTimeout
		}
		runtime.Gosched()
	}
	return nil
}

func (c *Connection) afterWrite(msg *http.OutgoingMessage) {
	c.server.recorder.ServedRequest(msg)
}

func drain[T any](q *queue.Queue) []T {
	if q.Length() == 0 {
		return nil
	}
	out := make([]T, 0, q.Length())
	for q.Length() > 0 {
		out = append(out, q.Remove().(T))
	}
	return out
}

func releaseAll(msgs []*http.OutgoingMessage) {
	for _, m := range msgs {
		m.Release()
	}
}
