package core

import (
	"errors"
	"fmt"

	"github.com/searchktools/webserver/core/http"
	"github.com/searchktools/webserver/core/poller"
	"github.com/searchktools/webserver/core/sockets"
)

// Accept wraps a descriptor returned by accept and registers it with
// server. At capacity the peer is sent a 503 and the descriptor is closed
// before ErrTooManyConnections is returned.
func Accept(server *Server, fd sockets.SocketFd, remote sockets.SocketAddress) (*Connection, error) {
	c := newConnection(server, fd, Incoming, remote)
	if err := c.setOptions(); err != nil {
		c.discard()
		return nil, err
	}

	if err := server.NewConnection(c); err != nil {
		if errors.Is(err, ErrTooManyConnections) {
			c.refuse()
		} else {
			c.discard()
		}
		return nil, err
	}

	if err := c.initialize(); err != nil {
		c.Close()
		return nil, fmt.Errorf("core: register connection: %w", err)
	}
	return c, nil
}

// Connect opens an outgoing connection to addr, waiting at most the
// server's connection timeout for the handshake.
func Connect(server *Server, addr sockets.SocketAddress, persistent bool) (*Connection, error) {
	fd, err := sockets.OpenStream()
	if err != nil {
		return nil, err
	}
	if err := fd.SetReuseAddress(); err != nil {
		fd.Close()
		return nil, err
	}

	c := newConnection(server, fd, Outgoing, addr)
	if err := c.setOptions(); err != nil {
		c.discard()
		return nil, err
	}

	c.SetState(poller.Connecting)
	inProgress, err := fd.Connect(addr)
	if err == nil && inProgress {
		err = fd.WaitConnected(server.ConnectionTimeout())
	}
	if err != nil {
		c.discard()
		return nil, fmt.Errorf("core: connect %s: %w", addr, err)
	}

	c.SetPersistence(persistent)
	if err := server.NewConnection(c); err != nil {
		c.discard()
		return nil, err
	}
	if err := c.initialize(); err != nil {
		c.Close()
		return nil, fmt.Errorf("core: register connection: %w", err)
	}
	return c, nil
}

// setOptions makes the socket non-blocking, which is required, and applies
// the optional tuning, logging what the socket does not support.
func (c *Connection) setOptions() error {
	fd := c.Fd()
	if err := fd.SetNonBlocking(); err != nil {
		return fmt.Errorf("core: set non-blocking: %w", err)
	}
	if err := fd.SetNoSignal(); err != nil {
		c.log.WithError(err).Warn("could not disable SIGPIPE on socket")
	}
	if err := fd.SetNoDelay(); err != nil {
		c.log.WithError(err).Debug("could not disable Nagle algorithm on socket")
	}
	timeout := c.server.ConnectionTimeout()
	if err := fd.SetSendTimeout(timeout); err != nil {
		c.log.WithError(err).Warn("could not set socket send timeout")
	}
	if err := fd.SetReceiveTimeout(timeout); err != nil {
		c.log.WithError(err).Warn("could not set socket receive timeout")
	}
	return nil
}

// refuse writes the capacity response directly and drops the descriptor
func (c *Connection) refuse() {
	c.log.Warn("too many connections, refusing peer")
	msg := http.TooManyConnections()
	msg.Serialize()
	if err := c.writeAll(msg.Bytes()); err != nil {
		c.log.WithError(err).Debug("could not send capacity response")
	}
	c.server.recorder.ServedRequest(msg)
	msg.Release()

	c.discard()
}

// discard drops a connection that never reached the poll
func (c *Connection) discard() {
	c.SetState(poller.Closing)
	if err := c.CloseDescriptor(); err != nil {
		c.log.WithError(err).Debug("close descriptor")
	}
	if c.buffer != nil {
		c.buffer.Release()
		c.buffer = nil
	}
}

// processRead decodes every complete frame in the buffer. A frame that
// fails to decode is cut out on its own and decoding resumes after it. The
// first bad frame is dropped silently; a second one in a row is answered
// with 400.
func (c *Connection) processRead() {
	for c.buffer != nil && c.buffer.Len() > 0 {
		msg, eof, err := http.Deserialize(c.buffer.Bytes())
		if err != nil {
			c.malformed(err)
			continue
		}
		if msg == nil {
			return
		}

		c.badData = false
		c.buffer.Erase(0, eof)
		c.pushIncoming(msg)
		c.SetPersistence(msg.IsPersistent())
		c.server.ActivityOn(c)
		c.server.recorder.IncomingRequest(eof)
	}
}

// malformed drops the offending frame up to the end of its header block, or
// the whole buffer when the block has not arrived yet.
func (c *Connection) malformed(err error) {
	n, ok := http.FrameLength(c.buffer.Bytes())
	if !ok {
		n = c.buffer.Len()
	}

	if !c.badData {
		c.badData = true
		c.log.WithError(err).Debug("discarding malformed data")
		c.buffer.Erase(0, n)
		return
	}

	frame := c.buffer.Bytes()[:n]
	id, _ := http.ScanRequestID(frame)
	c.log.WithError(err).Warnf("HTTP deserialization failed\n<buffer>%s</buffer>", frame)
	c.badData = false
	c.buffer.Erase(0, n)
	c.SendMessage(http.BadRequest(id, true))
}
