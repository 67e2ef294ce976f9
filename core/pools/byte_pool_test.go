package pools

import "testing"

func TestBytePool_GetRoundsUpToTier(t *testing.T) {
	bp := NewBytePool()

	tests := []struct {
		size        int
		expectedCap int
	}{
		{1, 2048},
		{1501, 2048},
		{2049, 8192},
		{32768, 32768},
		{100000, 131072},
	}

	for _, tt := range tests {
		buf := bp.Get(tt.size)
		if len(buf) != tt.size {
			t.Errorf("Expected len %d, got %d", tt.size, len(buf))
		}
		if cap(buf) != tt.expectedCap {
			t.Errorf("Get(%d): expected cap %d, got %d", tt.size, tt.expectedCap, cap(buf))
		}
		bp.Put(buf)
	}
}

func TestBytePool_OversizedIsMiss(t *testing.T) {
	bp := NewBytePool()

	buf := bp.Get(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("Expected len %d, got %d", 1<<20, len(buf))
	}
	bp.Put(buf)

	stats := bp.Stats()
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Puts != 0 {
		t.Errorf("Expected oversized buffer to be dropped, got %d puts", stats.Puts)
	}
}

func BenchmarkBytePool_GetPut(b *testing.B) {
	bp := NewBytePool()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := bp.Get(1501)
		bp.Put(buf)
	}
}
