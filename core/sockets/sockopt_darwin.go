//go:build darwin

package sockets

import "golang.org/x/sys/unix"

const sendFlags = 0

func setNoSignal(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}
