//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package poller

import (
	"golang.org/x/sys/unix"
)

// kqueueBackend keeps one filter per interest kind. The kernel reports read
// and write separately; wait merges them into one result per descriptor.
type kqueueBackend struct {
	kq      int
	events  []unix.Kevent_t
	changes []unix.Kevent_t
	index   map[int]int
}

func init() {
	registerBackend("kqueue", 0, newKqueueBackend)
}

func newKqueueBackend(maxEvents int) (backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueueBackend{
		kq:     kq,
		events: make([]unix.Kevent_t, maxEvents),
		index:  make(map[int]int, maxEvents),
	}, nil
}

func (b *kqueueBackend) name() string { return "kqueue" }

func (b *kqueueBackend) change(fd, filter int, on bool) {
	var ev unix.Kevent_t
	flags := unix.EV_DELETE
	if on {
		flags = unix.EV_ADD | unix.EV_ENABLE
	}
	unix.SetKevent(&ev, fd, filter, flags)
	b.changes = append(b.changes, ev)
}

func (b *kqueueBackend) update(fd int, old, new Interest) error {
	b.changes = b.changes[:0]
	diff := old ^ new
	if diff&Read != 0 {
		b.change(fd, unix.EVFILT_READ, new&Read != 0)
	}
	if diff&Write != 0 {
		b.change(fd, unix.EVFILT_WRITE, new&Write != 0)
	}
	if len(b.changes) == 0 {
		return nil
	}

	_, err := unix.Kevent(b.kq, b.changes, nil, nil)
	if err != nil && new&^old == 0 && ignorableDelete(err) {
		return nil
	}
	return err
}

// Deleting a filter of a descriptor that is already gone is not an error.
func ignorableDelete(err error) bool {
	switch err {
	case unix.EBADF, unix.EINVAL, unix.ENOENT:
		return true
	}
	return false
}

func (b *kqueueBackend) wait(msec int, out []readiness) (int, error) {
	var ts *unix.Timespec
	if msec >= 0 {
		t := unix.NsecToTimespec(int64(msec) * 1e6)
		ts = &t
	}

	events := b.events
	if len(out) < len(events) {
		events = events[:len(out)]
	}
	n, err := unix.Kevent(b.kq, nil, events, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	clear(b.index)
	count := 0
	for i := 0; i < n; i++ {
		ev := &events[i]
		fd := int(ev.Ident)

		var m Interest
		switch {
		case ev.Flags&unix.EV_ERROR != 0:
			if ignorableDelete(unix.Errno(ev.Data)) {
				continue
			}
			m = Error
		case int(ev.Filter) == unix.EVFILT_READ:
			m = Read
		case int(ev.Filter) == unix.EVFILT_WRITE:
			m = Write
			if ev.Flags&unix.EV_EOF != 0 {
				m |= Error
			}
		default:
			continue
		}

		if j, ok := b.index[fd]; ok {
			out[j].mask |= m
			continue
		}
		b.index[fd] = count
		out[count] = readiness{fd: fd, mask: m}
		count++
	}
	return count, nil
}

func (b *kqueueBackend) close() error {
	return unix.Close(b.kq)
}
