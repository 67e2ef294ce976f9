// Package observability collects traffic, rate and latency statistics for
// the server and exports them as snapshots and Prometheus metrics.
package observability

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/cpu"

	"github.com/searchktools/webserver/core/http"
)

// Status aggregates what the connections report. IncomingRequest and
// ServedRequest are called from every worker and never block; the windowed
// figures are recomputed once per tick by Run.
type Status struct {
	_            cpu.CacheLinePad
	outgoingRate atomic.Uint64
	_            cpu.CacheLinePad
	latencySum   atomic.Uint64
	latencyCount atomic.Uint64
	maxLatency   atomic.Uint64
	maxAttained  atomic.Uint64
	_            cpu.CacheLinePad

	trafficIn  *xsync.Counter
	trafficOut *xsync.Counter
	served     [http.CodesCount]*xsync.Counter

	mu          sync.RWMutex
	sustained   windows
	attained    windows
	latency     windows
	totalServed uint64

	interval time.Duration
	metrics  *Metrics
	log      *logrus.Entry
}

// Option configures a Status
type Option func(*Status)

// WithInterval changes the sampling period, one second by default
func WithInterval(d time.Duration) Option {
	return func(s *Status) { s.interval = d }
}

// WithMetrics mirrors every sample into Prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(s *Status) { s.metrics = m }
}

func WithLogger(l *logrus.Entry) Option {
	return func(s *Status) { s.log = l }
}

// NewStatus creates a collector. Call Run to start sampling.
func NewStatus(opts ...Option) *Status {
	s := &Status{
		trafficIn:  xsync.NewCounter(),
		trafficOut: xsync.NewCounter(),
		interval:   time.Second,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for i := range s.served {
		s.served[i] = xsync.NewCounter()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "status")
	return s
}

// IncomingRequest records the size of one decoded request
func (s *Status) IncomingRequest(length int) {
	s.trafficIn.Add(int64(length))
	if s.metrics != nil {
		s.metrics.trafficIn.Add(float64(length))
	}
}

// ServedRequest records a written response. Only responses carrying a
// timer count towards rates and latency.
func (s *Status) ServedRequest(msg *http.OutgoingMessage) {
	code := msg.ResponseCode()
	if code.Valid() {
		s.served[code].Inc()
	}
	s.trafficOut.Add(int64(msg.Len()))
	if s.metrics != nil {
		s.metrics.observeServed(code, msg.Len())
	}

	started, ok := msg.Timer()
	if !ok {
		return
	}
	elapsed := time.Since(started)
	latency := uint64(math.Round(float64(elapsed.Nanoseconds()) / 1000))
	s.latencySum.Add(latency)
	s.latencyCount.Add(1)
	s.outgoingRate.Add(1)
	if s.metrics != nil {
		s.metrics.latency.Observe(elapsed.Seconds())
	}

	// The peak is only meaningful once traffic has been sampled.
	if s.maxAttained.Load() == 0 {
		return
	}
	for {
		cur := s.maxLatency.Load()
		if latency <= cur || s.maxLatency.CompareAndSwap(cur, latency) {
			return
		}
	}
}

// Run samples every interval until ctx is done
func (s *Status) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Debug("status collector started")
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("status collector stopped")
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick takes one sample
func (s *Status) Tick() {
	rate := s.outgoingRate.Swap(0)
	sum := s.latencySum.Swap(0)
	count := s.latencyCount.Swap(0)

	if rate > s.maxAttained.Load() {
		s.maxAttained.Store(rate)
	}

	var total uint64
	for _, c := range s.served {
		total += uint64(c.Value())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sustained.push(float64(rate))
	if rate > 0 {
		s.attained.push(float64(rate))
	}
	if sum > 0 && count > 0 {
		s.latency.push(float64(sum) / float64(count))
	}
	s.totalServed = total
}

func (s *Status) windowed(w *windows, i int) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(w.mean(i))
}

func (s *Status) TrafficIn() uint64  { return uint64(s.trafficIn.Value()) }
func (s *Status) TrafficOut() uint64 { return uint64(s.trafficOut.Value()) }

// Served returns how many responses with code were written
func (s *Status) Served(code http.Code) uint64 {
	if !code.Valid() {
		return 0
	}
	return uint64(s.served[code].Value())
}

// TotalServedRequests is the served total as of the last tick
func (s *Status) TotalServedRequests() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalServed
}

// Sustained rates average every second, idle ones included.
func (s *Status) SustainedRate1() uint64  { return s.windowed(&s.sustained, 0) }
func (s *Status) SustainedRate5() uint64  { return s.windowed(&s.sustained, 1) }
func (s *Status) SustainedRate15() uint64 { return s.windowed(&s.sustained, 2) }

// Attained rates average only the seconds that served something.
func (s *Status) AttainedRate1() uint64  { return s.windowed(&s.attained, 0) }
func (s *Status) AttainedRate5() uint64  { return s.windowed(&s.attained, 1) }
func (s *Status) AttainedRate15() uint64 { return s.windowed(&s.attained, 2) }

func (s *Status) MaxAttainedRate() uint64 { return s.maxAttained.Load() }

// Latencies are in microseconds.
func (s *Status) Latency1() uint64  { return s.windowed(&s.latency, 0) }
func (s *Status) Latency5() uint64  { return s.windowed(&s.latency, 1) }
func (s *Status) Latency15() uint64 { return s.windowed(&s.latency, 2) }

func (s *Status) MaxLatency() uint64 { return s.maxLatency.Load() }
