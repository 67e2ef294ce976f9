package poller

import (
	"sync"
	"time"
)

// Op is one interest change seen by the simulated backend
type Op struct {
	FD  int
	Old Interest
	New Interest
}

// Simulator is an in-memory readiness queue standing in for the kernel.
// Readiness injected with Ready is reported once, filtered by the interest
// registered at the time of the wait; Error is always reported.
type Simulator struct {
	mu       sync.Mutex
	interest map[int]Interest
	queue    []readiness
	ops      []Op
	closed   bool
	notify   chan struct{}
}

// NewSimulated creates a Poll driven by a Simulator
func NewSimulated(maxOpen int, opts ...Option) (*Poll, *Simulator) {
	s := &Simulator{
		interest: make(map[int]Interest),
		notify:   make(chan struct{}, 1),
	}
	return newPoll(s, maxOpen, opts), s
}

// Ready queues readiness for fd
func (s *Simulator) Ready(fd int, mask Interest) {
	s.mu.Lock()
	s.queue = append(s.queue, readiness{fd: fd, mask: mask})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Interest returns the interest the backend currently holds for fd
func (s *Simulator) Interest(fd int) Interest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interest[fd]
}

// Ops returns a copy of every interest change so far
func (s *Simulator) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Op(nil), s.ops...)
}

// Queued returns the number of undelivered readiness records
func (s *Simulator) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Closed reports whether the owning Poll was shut down
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Simulator) name() string { return "simulated" }

func (s *Simulator) update(fd int, old, new Interest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{FD: fd, Old: old, New: new})
	if new == 0 {
		delete(s.interest, fd)
	} else {
		s.interest[fd] = new
	}
	return nil
}

func (s *Simulator) wait(msec int, out []readiness) (int, error) {
	if s.Queued() == 0 && msec != 0 {
		var timeout <-chan time.Time
		if msec > 0 {
			timer := time.NewTimer(time.Duration(msec) * time.Millisecond)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-s.notify:
		case <-timeout:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	rest := s.queue[:0]
	for _, r := range s.queue {
		if n == len(out) {
			rest = append(rest, r)
			continue
		}
		interest, ok := s.interest[r.fd]
		if !ok {
			continue
		}
		mask := r.mask & (interest | Error)
		if mask == 0 {
			continue
		}
		out[n] = readiness{fd: r.fd, mask: mask}
		n++
	}
	s.queue = rest
	return n, nil
}

func (s *Simulator) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
