package core

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/webserver/core/poller"
)

// Limits are shared by every server behind one listener
type Limits struct {
	MaxConnects       int
	ConnectionTimeout time.Duration
}

// DefaultLimits returns 1000 connections and a ten second timeout
func DefaultLimits() Limits {
	return Limits{
		MaxConnects:       DefaultMaxConnects,
		ConnectionTimeout: DefaultConnectionTimeout,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxConnects <= 0 {
		l.MaxConnects = DefaultMaxConnects
	}
	if l.ConnectionTimeout <= 0 {
		l.ConnectionTimeout = DefaultConnectionTimeout
	}
	return l
}

type options struct {
	poll        *poller.Poll
	log         *logrus.Entry
	pollTimeout time.Duration
	readChunk   int
}

// Option configures a Server or a Listener
type Option func(*options)

// WithPoll supplies the poll instead of creating a kernel one. It is shut
// down when its server or listener closes.
func WithPoll(p *poller.Poll) Option {
	return func(o *options) { o.poll = p }
}

func WithLogger(l *logrus.Entry) Option {
	return func(o *options) { o.log = l }
}

// WithPollTimeout bounds each wait of a listener's poll loop
func WithPollTimeout(d time.Duration) Option {
	return func(o *options) { o.pollTimeout = d }
}

// WithReadChunk sets how many bytes a connection reads per event
func WithReadChunk(n int) Option {
	return func(o *options) { o.readChunk = n }
}

func buildOptions(opts []Option) options {
	o := options{
		log:         defaultLogger(),
		pollTimeout: DefaultListenerPollTimeout,
		readChunk:   DefaultReadChunk,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func millis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	if ms := d.Milliseconds(); ms > 0 {
		return int(ms)
	}
	return 1
}
