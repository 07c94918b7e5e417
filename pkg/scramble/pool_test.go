package scramble

import "testing"

func TestBufferPool(t *testing.T) {
	pool := newBufferPool()

	tests := []struct {
		name string
		size int
		cap  int
	}{
		{"small", 100, smallBufferSize},
		{"medium", 100_000, mediumBufferSize},
		{"large", 5_000_000, largeBufferSize},
		{"oversized", largeBufferSize + 1, largeBufferSize + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := pool.get(tt.size)
			if len(buf) != tt.size {
				t.Errorf("length = %d, want %d", len(buf), tt.size)
			}
			if cap(buf) != tt.cap {
				t.Errorf("capacity = %d, want %d", cap(buf), tt.cap)
			}
			pool.put(buf)
		})
	}

	if buf := pool.get(0); buf != nil {
		t.Errorf("expected nil for size 0, got %v", buf)
	}
	if buf := pool.get(-1); buf != nil {
		t.Errorf("expected nil for negative size, got %v", buf)
	}
	pool.put(nil)
}

func TestBufferPoolWipesOnPut(t *testing.T) {
	pool := newBufferPool()
	buf := pool.get(32)
	for i := range buf {
		buf[i] = 0xAA
	}
	pool.put(buf)

	for i, b := range buf[:cap(buf)] {
		if b != 0 {
			t.Fatalf("byte %d not wiped: %#x", i, b)
		}
	}
}

func BenchmarkBufferPool(b *testing.B) {
	pool := newBufferPool()
	b.ReportAllocs()
	for b.Loop() {
		buf := pool.get(50_000)
		pool.put(buf)
	}
}
