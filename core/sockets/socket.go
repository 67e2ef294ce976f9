package sockets

import (
	"golang.org/x/sys/unix"

	"github.com/searchktools/webserver/core/poller"
)

// Socket is a pollable stream socket
type Socket struct {
	poller.EventBase
}

// Init attaches fd and resets the state to Inactive
func (s *Socket) Init(fd SocketFd) {
	s.SetDescriptor(int(fd))
	s.SetState(poller.Inactive)
}

func (s *Socket) Fd() SocketFd { return SocketFd(s.Descriptor()) }

// ReadStream reads into p. It returns 0 and no error when no data is ready
// yet, and ErrConnectionTerminated once the peer has shut down.
func (s *Socket) ReadStream(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, ErrZeroReadBuffer
	}
	n, err := unix.Read(s.Descriptor(), p)
	if err != nil {
		if temporary(err) {
			return 0, nil
		}
		return 0, classify("read", err)
	}
	if n == 0 {
		return 0, ErrConnectionTerminated
	}
	return n, nil
}

// WriteStream writes p. It returns 0 and no error when the send buffer is full.
func (s *Socket) WriteStream(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, ErrZeroWriteBuffer
	}
	n, err := unix.SendmsgN(s.Descriptor(), p, nil, nil, sendFlags)
	if err != nil {
		if temporary(err) {
			return 0, nil
		}
		return 0, classify("write", err)
	}
	return n, nil
}

func (s *Socket) LocalAddress() (SocketAddress, error) { return s.Fd().LocalAddress() }

func (s *Socket) RemoteAddress() (SocketAddress, error) { return s.Fd().RemoteAddress() }

// CloseDescriptor closes the descriptor once. Deregister from any Poll first.
func (s *Socket) CloseDescriptor() error {
	fd := s.Fd()
	if !fd.IsValid() {
		return nil
	}
	s.SetDescriptor(int(InvalidFd))
	return fd.Close()
}
