//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// epollBackend is level-triggered; EPOLLERR and EPOLLHUP are reported by the
// kernel whether or not they were requested.
type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
}

func init() {
	registerBackend("epoll", 1, newEpollBackend)
}

func newEpollBackend(maxEvents int) (backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (b *epollBackend) name() string { return "epoll" }

func epollEvents(m Interest) uint32 {
	var ev uint32
	if m&Read != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if m&Write != 0 {
		ev |= unix.EPOLLOUT
	}
	if m&Error != 0 {
		ev |= unix.EPOLLERR | unix.EPOLLHUP
	}
	return ev
}

func (b *epollBackend) update(fd int, old, new Interest) error {
	op := unix.EPOLL_CTL_MOD
	switch {
	case old == 0:
		op = unix.EPOLL_CTL_ADD
	case new == 0:
		return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	ev := unix.EpollEvent{Events: epollEvents(new), Fd: int32(fd)}
	return unix.EpollCtl(b.epfd, op, fd, &ev)
}

func (b *epollBackend) wait(msec int, out []readiness) (int, error) {
	events := b.events
	if len(out) < len(events) {
		events = events[:len(out)]
	}
	n, err := unix.EpollWait(b.epfd, events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	for i := 0; i < n; i++ {
		ev := events[i].Events
		var m Interest
		if ev&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
			m |= Read
		}
		if ev&unix.EPOLLOUT != 0 {
			m |= Write
		}
		if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			m |= Error
		}
		out[i] = readiness{fd: int(events[i].Fd), mask: m}
	}
	return n, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}
