// Package poller multiplexes readiness of many descriptors over epoll,
// kqueue or an in-memory simulator.
package poller

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Interest is a set of readiness kinds
type Interest uint8

const (
	Read Interest = 1 << iota
	Write
	Error
)

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	var parts []string
	if i&Read != 0 {
		parts = append(parts, "read")
	}
	if i&Write != 0 {
		parts = append(parts, "write")
	}
	if i&Error != 0 {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}

var (
	ErrNoBackend         = errors.New("poller: no suitable poll mechanism detected")
	ErrInvalidDescriptor = errors.New("poller: invalid descriptor")
	ErrAlreadyRegistered = errors.New("poller: descriptor already has interest set")
	ErrNotRegistered     = errors.New("poller: event is not opened")
	ErrInterestRemaining = errors.New("poller: event still has interest set")
	ErrPollClosed        = errors.New("poller: poll is shut down")
)

type readiness struct {
	fd   int
	mask Interest
}

// backend is one OS readiness facility
type backend interface {
	name() string
	update(fd int, old, new Interest) error
	wait(msec int, out []readiness) (int, error)
	close() error
}

type backendFactory struct {
	name     string
	priority int
	create   func(maxEvents int) (backend, error)
}

var factories []backendFactory

func registerBackend(name string, priority int, create func(int) (backend, error)) {
	factories = append(factories, backendFactory{name: name, priority: priority, create: create})
	sort.SliceStable(factories, func(i, j int) bool {
		return factories[i].priority < factories[j].priority
	})
}

type registration struct {
	event Event
	mask  Interest
	gen   uint64
}

type result struct {
	fd   int
	gen  uint64
	mask Interest
}

// Poll keeps an interest table next to the backend so interest can be
// queried without a syscall. DoPoll and Perform must be called from a
// single goroutine; the other methods are safe from any goroutine.
type Poll struct {
	backend backend
	maxOpen int
	log     *logrus.Entry

	mu      sync.Mutex
	table   map[int]*registration
	nextGen uint64
	pending []result
	closed  bool

	ready []readiness
}

// Option configures a Poll
type Option func(*Poll)

// WithLogger sets the logger used by the poll
func WithLogger(l *logrus.Entry) Option {
	return func(p *Poll) { p.log = l }
}

// New creates a Poll on the first backend the host provides
func New(maxOpen int, opts ...Option) (*Poll, error) {
	var errs []error
	for _, f := range factories {
		b, err := f.create(eventsFor(maxOpen))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		return newPoll(b, maxOpen, opts), nil
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
	}
	return nil, ErrNoBackend
}

func newPoll(b backend, maxOpen int, opts []Option) *Poll {
	p := &Poll{
		backend: b,
		maxOpen: maxOpen,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		table:   make(map[int]*registration),
		ready:   make([]readiness, eventsFor(maxOpen)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("poll", b.name())
	p.log.Debugf("poll created, open max %d", maxOpen)
	return p
}

func eventsFor(maxOpen int) int {
	switch {
	case maxOpen < 64:
		return 64
	case maxOpen > 4096:
		return 4096
	}
	return maxOpen
}

// Backend names the readiness facility in use
func (p *Poll) Backend() string { return p.backend.name() }

// OpenMax is the descriptor count the poll was sized for
func (p *Poll) OpenMax() int { return p.maxOpen }

// Open registers ev with no interest. It fails when the descriptor already
// has interest set, which catches double registration.
func (p *Poll) Open(ev Event) error {
	fd := ev.Descriptor()
	if fd < 0 {
		return ErrInvalidDescriptor
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollClosed
	}
	if reg, ok := p.table[fd]; ok && reg.mask != 0 {
		return fmt.Errorf("%w: fd %d (%s)", ErrAlreadyRegistered, fd, reg.mask)
	}
	p.nextGen++
	p.table[fd] = &registration{event: ev, gen: p.nextGen}
	return nil
}

// Close drops the registration of ev and scrubs any undispatched results
// for it. All interest must have been removed first.
func (p *Poll) Close(ev Event) error {
	fd := ev.Descriptor()

	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.table[fd]
	if !ok || reg.event != ev {
		return nil
	}
	if reg.mask != 0 {
		return fmt.Errorf("%w: fd %d (%s)", ErrInterestRemaining, fd, reg.mask)
	}
	delete(p.table, fd)
	for i := range p.pending {
		if p.pending[i].fd == fd {
			p.pending[i].fd = -1
		}
	}
	return nil
}

func (p *Poll) InsertRead(ev Event) error  { return p.set(ev, Read, true) }
func (p *Poll) InsertWrite(ev Event) error { return p.set(ev, Write, true) }
func (p *Poll) InsertError(ev Event) error { return p.set(ev, Error, true) }
func (p *Poll) RemoveRead(ev Event) error  { return p.set(ev, Read, false) }
func (p *Poll) RemoveWrite(ev Event) error { return p.set(ev, Write, false) }
func (p *Poll) RemoveError(ev Event) error { return p.set(ev, Error, false) }

// RemoveAll withdraws every interest bit of ev
func (p *Poll) RemoveAll(ev Event) error {
	return p.set(ev, Read|Write|Error, false)
}

func (p *Poll) set(ev Event, bits Interest, on bool) error {
	fd := ev.Descriptor()

	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.table[fd]
	if !ok || reg.event != ev {
		if !on {
			return nil
		}
		return fmt.Errorf("%w: fd %d", ErrNotRegistered, fd)
	}

	next := reg.mask &^ bits
	if on {
		next = reg.mask | bits
	}
	if next == reg.mask {
		return nil
	}
	if p.closed {
		if on {
			return ErrPollClosed
		}
		reg.mask = next
		return nil
	}
	if err := p.backend.update(fd, reg.mask, next); err != nil {
		return fmt.Errorf("poller: fd %d %s -> %s: %w", fd, reg.mask, next, err)
	}
	reg.mask = next
	return nil
}

func (p *Poll) InRead(ev Event) bool  { return p.has(ev, Read) }
func (p *Poll) InWrite(ev Event) bool { return p.has(ev, Write) }
func (p *Poll) InError(ev Event) bool { return p.has(ev, Error) }

func (p *Poll) has(ev Event, bit Interest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.table[ev.Descriptor()]
	return ok && reg.event == ev && reg.mask&bit != 0
}

// Interest returns the current interest of fd
func (p *Poll) Interest(fd int) Interest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if reg, ok := p.table[fd]; ok {
		return reg.mask
	}
	return 0
}

// Registered returns the number of opened events
func (p *Poll) Registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.table)
}

// DoPoll waits up to msec milliseconds and buffers the results for Perform.
// An interrupted wait returns 0 and no error.
func (p *Poll) DoPoll(msec int) (int, error) {
	n, err := p.backend.wait(msec, p.ready)
	if err != nil {
		return -1, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = p.pending[:0]
	for _, r := range p.ready[:n] {
		reg, ok := p.table[r.fd]
		if !ok {
			continue
		}
		p.pending = append(p.pending, result{fd: r.fd, gen: reg.gen, mask: r.mask})
	}
	return n, nil
}

// Perform dispatches the results of the last DoPoll. Per event the order is
// error, read, write; each callback is skipped when the event has been
// closed, left its active states or dropped that interest in the meantime.
// Callbacks may close any event, including the one being dispatched.
func (p *Poll) Perform() {
	for i := 0; ; i++ {
		p.mu.Lock()
		if i >= len(p.pending) {
			p.pending = p.pending[:0]
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if ev := p.dispatchable(i, Error); ev != nil {
			ev.EventError()
		}
		if ev := p.dispatchable(i, Read); ev != nil {
			ev.EventRead()
		}
		if ev := p.dispatchable(i, Write); ev != nil {
			ev.EventWrite()
		}
	}
}

func (p *Poll) dispatchable(i int, bit Interest) Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.pending) {
		return nil
	}
	r := p.pending[i]
	if r.fd < 0 || r.mask&bit == 0 {
		return nil
	}
	reg, ok := p.table[r.fd]
	if !ok || reg.gen != r.gen || reg.mask&bit == 0 {
		return nil
	}
	switch reg.event.State() {
	case Inactive, Closing:
		return nil
	}
	return reg.event
}

// Shutdown releases the backend. Registered events are forgotten.
func (p *Poll) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.pending = p.pending[:0]
	p.table = make(map[int]*registration)
	return p.backend.close()
}
