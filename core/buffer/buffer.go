// Package buffer provides the growable byte accumulator used for incoming
// connection data.
package buffer

import (
	"github.com/searchktools/webserver/core/pools"
)

// ByteBuffer is a growable byte string. Storage always holds
// length+reserved+1 bytes and data[length] is NUL.
type ByteBuffer struct {
	data     []byte
	length   int
	reserved int
}

// New creates a buffer with capacity bytes of spare room
func New(capacity int) *ByteBuffer {
	if capacity < 0 {
		capacity = 0
	}
	b := &ByteBuffer{
		data:     pools.GetBytes(capacity + 1),
		reserved: capacity,
	}
	b.data[0] = 0
	return b
}

// Len returns the number of used bytes
func (b *ByteBuffer) Len() int { return b.length }

// Reserved returns the spare capacity after the used bytes
func (b *ByteBuffer) Reserved() int { return b.reserved }

// Bytes returns the used bytes. The slice is valid until the next mutation.
func (b *ByteBuffer) Bytes() []byte { return b.data[:b.length] }

// String returns a copy of the used bytes
func (b *ByteBuffer) String() string { return string(b.data[:b.length]) }

// Tail returns the writable spare region
func (b *ByteBuffer) Tail() []byte {
	return b.data[b.length : b.length+b.reserved]
}

// Reserve grows the spare region by n bytes, keeping the content
func (b *ByteBuffer) Reserve(n int) {
	if n <= 0 {
		return
	}
	size := b.length + b.reserved + n + 1
	grown := pools.GetBytes(size)
	copy(grown, b.data[:b.length+1])
	pools.PutBytes(b.data)
	b.data = grown
	b.reserved += n
}

// Append copies p to the end, growing the buffer when needed
func (b *ByteBuffer) Append(p []byte) {
	if len(p) > b.reserved {
		b.Reserve(len(p) - b.reserved)
	}
	copy(b.data[b.length:], p)
	b.commit(len(p))
}

// AppendString copies s to the end
func (b *ByteBuffer) AppendString(s string) {
	if len(s) > b.reserved {
		b.Reserve(len(s) - b.reserved)
	}
	copy(b.data[b.length:], s)
	b.commit(len(s))
}

// AdjustLength commits n bytes previously written into Tail
func (b *ByteBuffer) AdjustLength(n int) {
	if n <= 0 {
		return
	}
	if n > b.reserved {
		n = b.reserved
	}
	b.commit(n)
}

func (b *ByteBuffer) commit(n int) {
	b.length += n
	b.reserved -= n
	b.data[b.length] = 0
}

// Erase removes n bytes starting at pos and shifts the remainder left.
// The freed bytes become spare capacity.
func (b *ByteBuffer) Erase(pos, n int) {
	if pos < 0 || pos >= b.length || n <= 0 {
		return
	}
	if pos+n > b.length {
		n = b.length - pos
	}
	copy(b.data[pos:], b.data[pos+n:b.length])
	b.length -= n
	b.reserved += n
	b.data[b.length] = 0
}

// Clear drops the content but keeps the storage
func (b *ByteBuffer) Clear() {
	b.reserved += b.length
	b.length = 0
	b.data[0] = 0
}

// Release returns the storage to the pool. The buffer must not be used after.
func (b *ByteBuffer) Release() {
	if b.data == nil {
		return
	}
	pools.PutBytes(b.data)
	b.data = nil
	b.length = 0
	b.reserved = 0
}
