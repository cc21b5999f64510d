package nonce

import "testing"

func TestSourceProducesDistinctValues(t *testing.T) {
	s := NewSource()
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		v, err := s.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[v] {
			t.Fatalf("duplicate nonce %d at iteration %d", v, i)
		}
		seen[v] = true
	}
}

func TestSourceRefillsAcrossBufferBoundary(t *testing.T) {
	s := NewSource()
	// Force many refills; BufferSize/8 nonces consume one fill.
	n := (BufferSize/8)*3 + 5
	for i := 0; i < n; i++ {
		if _, err := s.Next(); err != nil {
			t.Fatalf("unexpected error at %d: %v", i, err)
		}
	}
}
