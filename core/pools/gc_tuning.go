package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds collector settings for a long running server. Zero fields
// leave the runtime setting alone.
type GCConfig struct {
	// GOGC is the collection target percentage; negative disables collection
	GOGC int

	// MemoryLimit is a soft heap limit in bytes
	MemoryLimit int64
}

// DefaultGCConfig trades memory for fewer collections, which suits servers
// holding many idle connection buffers
func DefaultGCConfig() GCConfig {
	return GCConfig{GOGC: 200}
}

// Apply installs c and returns the settings it replaced, so callers can
// restore them
func (c GCConfig) Apply() GCConfig {
	var previous GCConfig
	if c.GOGC != 0 {
		previous.GOGC = debug.SetGCPercent(c.GOGC)
	}
	if c.MemoryLimit > 0 {
		previous.MemoryLimit = debug.SetMemoryLimit(c.MemoryLimit)
	}
	return previous
}

// Restore reinstates settings returned by Apply
func (c GCConfig) Restore() { c.Apply() }

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32        `json:"num_gc"`
	PauseTotal   time.Duration `json:"pause_total"`
	LastPause    time.Duration `json:"last_pause"`
	HeapAlloc    uint64        `json:"heap_alloc"`
	Sys          uint64        `json:"sys"`
	NumGoroutine int           `json:"goroutines"`
}

// ReadGCStats returns current GC statistics
func ReadGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		PauseTotal:   time.Duration(ms.PauseTotalNs),
		HeapAlloc:    ms.HeapAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	}
	return stats
}
