// Package sockets wraps raw IPv4 stream sockets for the poll driven server.
package sockets

import (
	"time"

	"golang.org/x/sys/unix"
)

// SocketFd is a raw socket descriptor
type SocketFd int

// InvalidFd marks a closed or never opened descriptor
const InvalidFd SocketFd = -1

// OpenStream creates a TCP socket
func OpenStream() (SocketFd, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return InvalidFd, classify("socket", err)
	}
	unix.CloseOnExec(fd)
	return SocketFd(fd), nil
}

func (fd SocketFd) Int() int { return int(fd) }

func (fd SocketFd) IsValid() bool { return fd >= 0 }

func (fd SocketFd) Close() error {
	if !fd.IsValid() {
		return ErrInvalidDescriptor
	}
	return unix.Close(int(fd))
}

func (fd SocketFd) SetNonBlocking() error {
	return unix.SetNonblock(int(fd), true)
}

func (fd SocketFd) SetReuseAddress() error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

func (fd SocketFd) SetNoDelay() error {
	return unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// SetNoSignal stops writes to a closed peer from raising SIGPIPE
func (fd SocketFd) SetNoSignal() error {
	return setNoSignal(int(fd))
}

func (fd SocketFd) SetSendTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

func (fd SocketFd) SetReceiveTimeout(d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (fd SocketFd) SetSendBufferSize(n int) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

func (fd SocketFd) Bind(addr SocketAddress) error {
	if err := unix.Bind(int(fd), addr.Sockaddr()); err != nil {
		return classify("bind", err)
	}
	return nil
}

func (fd SocketFd) Listen(backlog int) error {
	if err := unix.Listen(int(fd), backlog); err != nil {
		return classify("listen", err)
	}
	return nil
}

// Accept takes one pending connection. When none is pending it returns
// InvalidFd and no error.
func (fd SocketFd) Accept() (SocketFd, SocketAddress, error) {
	nfd, sa, err := unix.Accept(int(fd))
	if err != nil {
		if temporary(err) || err == unix.ECONNABORTED {
			return InvalidFd, SocketAddress{}, nil
		}
		return InvalidFd, SocketAddress{}, classify("accept", err)
	}
	unix.CloseOnExec(nfd)
	return SocketFd(nfd), AddressFromSockaddr(sa), nil
}

// Connect starts a connection. On a non-blocking socket it reports
// inProgress instead of waiting.
func (fd SocketFd) Connect(addr SocketAddress) (inProgress bool, err error) {
	err = unix.Connect(int(fd), addr.Sockaddr())
	switch err {
	case nil:
		return false, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return true, nil
	}
	return false, classify("connect", err)
}

// WaitConnected blocks until a pending connect finishes or timeout passes
func (fd SocketFd) WaitConnected(timeout time.Duration) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrConnectionTimeout
		}
		n, err := unix.Poll(fds, int(remaining.Milliseconds())+1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return classify("poll", err)
		}
		if n == 0 {
			return ErrConnectionTimeout
		}
		return fd.PendingError()
	}
}

// PendingError reads and clears SO_ERROR
func (fd SocketFd) PendingError() error {
	v, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return classify("getsockopt", err)
	}
	if v != 0 {
		return classify("connect", unix.Errno(v))
	}
	return nil
}

func (fd SocketFd) LocalAddress() (SocketAddress, error) {
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return SocketAddress{}, classify("getsockname", err)
	}
	return AddressFromSockaddr(sa), nil
}

func (fd SocketFd) RemoteAddress() (SocketAddress, error) {
	sa, err := unix.Getpeername(int(fd))
	if err != nil {
		return SocketAddress{}, classify("getpeername", err)
	}
	return AddressFromSockaddr(sa), nil
}
