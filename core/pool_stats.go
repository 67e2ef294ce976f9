package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/searchktools/webserver/core/pools"
)

// PoolStats represents statistics for a running worker pool
type PoolStats struct {
	Backend           string              `json:"backend"`
	Uptime            time.Duration       `json:"uptime"`
	LiveServers       int64               `json:"live_servers"`
	ActiveConnections int                 `json:"active_connections"`
	Accepted          uint64              `json:"accepted"`
	Refused           uint64              `json:"refused"`
	Workers           []WorkerStats       `json:"workers"`
	BytePool          pools.BytePoolStats `json:"byte_pool"`
	GC                pools.GCStats       `json:"gc"`
}

type WorkerStats struct {
	ID          int    `json:"id"`
	Connections int    `json:"connections"`
	Pending     int    `json:"pending"`
	Processed   uint64 `json:"processed"`
	Panics      uint64 `json:"panics"`
}

// Stats returns a snapshot of the pool
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	listener, workers, started := p.listener, p.workers, p.started
	p.mu.Unlock()

	stats := PoolStats{
		LiveServers: LiveServers(),
		BytePool:    pools.GlobalStats(),
		GC:          pools.ReadGCStats(),
	}
	if !started.IsZero() {
		stats.Uptime = time.Since(started).Round(time.Second)
	}
	if listener != nil {
		stats.Accepted = listener.Accepted()
		stats.Refused = listener.Refused()
	}

	for _, w := range workers {
		s := w.Server()
		if stats.Backend == "" {
			stats.Backend = s.Poll().Backend()
		}
		ws := WorkerStats{
			ID:          w.ID(),
			Connections: s.ActiveConnections(),
			Pending:     s.PendingActivity(),
			Processed:   w.Processed(),
			Panics:      w.panics.Load(),
		}
		stats.ActiveConnections += ws.Connections
		stats.Workers = append(stats.Workers, ws)
	}
	return stats
}

// JSON returns the statistics as indented JSON
func (s PoolStats) JSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// String returns the statistics as human-readable text
func (s PoolStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `Worker Pool Statistics
======================

Backend:            %s
Uptime:             %s
Live servers:       %d
Active connections: %d
Accepted:           %d
Refused:            %d

Byte Pool:
  Gets:   %d
  Puts:   %d
  Misses: %d

GC:
  Collections: %d
  Pause total: %s
  Last pause:  %s
  Heap alloc:  %d
  Goroutines:  %d

`,
		s.Backend, s.Uptime, s.LiveServers, s.ActiveConnections, s.Accepted, s.Refused,
		s.BytePool.Gets, s.BytePool.Puts, s.BytePool.Misses,
		s.GC.NumGC, s.GC.PauseTotal, s.GC.LastPause, s.GC.HeapAlloc, s.GC.NumGoroutine,
	)
	for _, w := range s.Workers {
		fmt.Fprintf(&b, "Worker %d: %d connections, %d pending, %d processed, %d panics\n",
			w.ID, w.Connections, w.Pending, w.Processed, w.Panics)
	}
	return b.String()
}
