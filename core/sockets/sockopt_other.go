//go:build !linux && !darwin

package sockets

const sendFlags = 0

// The Go runtime turns SIGPIPE on sockets into EPIPE on these platforms.
func setNoSignal(int) error { return nil }
