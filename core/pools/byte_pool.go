package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a tiered pool of byte slices used as connection read storage
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

// Size classes for incoming buffers. A connection reads 1500 byte chunks, so
// the first tier holds one chunk plus its NUL terminator with room to spare.
var defaultSizes = []int{
	2048,
	8192,
	32768,
	131072,
}

// NewBytePool creates a byte pool with the default tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom tiers, smallest first
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a zeroed-length slice whose capacity is at least size
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := *(bp.pools[i].Get().(*[]byte))
			return buf[:size]
		}
	}

	bp.misses.Add(1)
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices of foreign capacity are dropped.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			bp.puts.Add(1)
			return
		}
	}
}

// BytePoolStats reports pool usage
type BytePoolStats struct {
	Gets   uint64 `json:"gets"`
	Puts   uint64 `json:"puts"`
	Misses uint64 `json:"misses"`
}

// Stats returns a snapshot of pool counters
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:   bp.gets.Load(),
		Puts:   bp.puts.Load(),
		Misses: bp.misses.Load(),
	}
}

var globalBytePool = NewBytePool()

// GetBytes takes a slice from the global pool
func GetBytes(size int) []byte {
	return globalBytePool.Get(size)
}

// PutBytes returns a slice to the global pool
func PutBytes(buf []byte) {
	globalBytePool.Put(buf)
}

// GlobalStats reports the global pool counters
func GlobalStats() BytePoolStats {
	return globalBytePool.Stats()
}
