package rom

import "testing"

func TestBuildTwoStepDeterministic(t *testing.T) {
	r1, err := BuildTwoStep("challenge-key", 1<<16, 1<<12, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r2, err := BuildTwoStep("challenge-key", 1<<16, 1<<12, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h1, err := r1.HashBatch([]string{"preimage-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := r2.HashBatch([]string{"preimage-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(h1[0]) != string(h2[0]) {
		t.Fatalf("expected deterministic hash for identical key/preimage")
	}
}

func TestBuildTwoStepDifferentKeysDiffer(t *testing.T) {
	r1, _ := BuildTwoStep("key-a", 1<<16, 1<<12, 4)
	r2, _ := BuildTwoStep("key-b", 1<<16, 1<<12, 4)
	h1, _ := r1.HashBatch([]string{"same-preimage"})
	h2, _ := r2.HashBatch([]string{"same-preimage"})
	if string(h1[0]) == string(h2[0]) {
		t.Fatalf("expected different ROMs to produce different hashes")
	}
}

func TestBuildTwoStepRejectsBadSizes(t *testing.T) {
	if _, err := BuildTwoStep("k", 0, 10, 4); err == nil {
		t.Fatal("expected error for zero size")
	}
	if _, err := BuildTwoStep("k", 10, 100, 4); err == nil {
		t.Fatal("expected error for preSize > size")
	}
}

func TestHashBatchOrderMatchesInput(t *testing.T) {
	r, err := BuildTwoStep("order-key", 1<<16, 1<<12, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	preimages := []string{"0000000000000001preimg", "0000000000000002preimg"}
	hashes, err := r.HashBatch(preimages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(hashes))
	}
	single, _ := r.HashBatch(preimages[:1])
	if string(single[0]) != string(hashes[0]) {
		t.Fatalf("expected batch hash to match single hash for same preimage")
	}
}
