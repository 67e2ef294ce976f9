package sockets

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrZeroReadBuffer       = errors.New("sockets: zero length read buffer")
	ErrZeroWriteBuffer      = errors.New("sockets: zero length write buffer")
	ErrConnectionTerminated = errors.New("sockets: connection terminated")
	ErrConnectionTimeout    = errors.New("sockets: connection timed out")
	ErrConnectionBlocked    = errors.New("sockets: connection blocked")
	ErrUnknownSocket        = errors.New("sockets: unknown socket error")
	ErrInvalidDescriptor    = errors.New("sockets: invalid descriptor")
)

// SocketError is a failed socket call classified into one of the sentinel
// errors above. errors.Is matches both the sentinel and the errno.
type SocketError struct {
	Op    string
	Errno unix.Errno
	Kind  error
}

func (e *SocketError) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Errno)
}

func (e *SocketError) Unwrap() []error {
	return []error{e.Kind, e.Errno}
}

// classify maps an errno to its transport error kind
func classify(op string, err error) error {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("sockets: %s: %w", op, err)
	}

	kind := ErrUnknownSocket
	switch errno {
	case unix.ETIMEDOUT:
		kind = ErrConnectionTimeout
	case unix.ECONNRESET, unix.ECONNABORTED, unix.EPIPE:
		kind = ErrConnectionTerminated
	case unix.EDEADLK:
		kind = ErrConnectionBlocked
	}
	return &SocketError{Op: op, Errno: errno, Kind: kind}
}

func temporary(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}
