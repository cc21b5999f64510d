package solver

import (
	"context"
	"testing"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

// sequentialNonces hands out 0,1,2,... in order — deterministic
// replacement for the buffered crypto/rand source in tests.
type sequentialNonces struct{ next uint64 }

func (s *sequentialNonces) Next() (uint64, error) {
	v := s.next
	s.next++
	return v, nil
}

// fixedRom returns a miss hash for every preimage except the one at
// hitIdx within the batch it expects, which returns hitHash.
type fixedRom struct {
	hitIdx int
	hit    bool
	hash   []byte
	miss   []byte
}

func (r *fixedRom) HashBatch(preimages []string) ([][]byte, error) {
	out := make([][]byte, len(preimages))
	for i := range preimages {
		if r.hit && i == r.hitIdx {
			out[i] = r.hash
		} else {
			out[i] = r.miss
		}
	}
	return out, nil
}

func mustHex(s string) []byte {
	b, err := util.HexToBytes(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestSolveFindsSolutionOnFirstSearchBatch(t *testing.T) {
	// Scenario S1: difficulty mask all-zero, a solution at nonce 7
	// (the 8th nonce drawn) within the very first search batch.
	s := NewWithSource(&sequentialNonces{})
	wp := &domain.WorkerProfile{Job: domain.NewJobStats()}
	challenge := domain.Challenge{
		ID:               "chal-1",
		NoPreMine:        "premine-key",
		Difficulty:       "00000000" + "00000000000000000000000000000000000000000000000000000000",
		LatestSubmission: time.Now().Add(time.Hour),
	}
	hitHash := mustHex("00000000" + repeatHex("ff", 28))
	r := &fixedRom{hitIdx: 7, hit: true, hash: hitHash, miss: mustHex("ffffffff" + repeatHex("00", 28))}

	sol, err := s.Solve(context.Background(), wp, "wallet-1", challenge, r, time.Now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sol.NonceHex != "0000000000000007" {
		t.Fatalf("nonce_hex = %s, want 0000000000000007", sol.NonceHex)
	}
	if sol.HashHex != util.BytesToHex(hitHash) {
		t.Fatalf("hash_hex = %s, want %s", sol.HashHex, util.BytesToHex(hitHash))
	}
	if sol.Tries != 8 {
		t.Fatalf("tries = %d, want 8", sol.Tries)
	}
}

func repeatHex(pair string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += pair
	}
	return out
}

func TestSolveReturnsChallengeExpired(t *testing.T) {
	s := NewWithSource(&sequentialNonces{})
	wp := &domain.WorkerProfile{Job: domain.NewJobStats()}
	challenge := domain.Challenge{
		ID:               "chal-2",
		NoPreMine:        "premine-key",
		Difficulty:       "00000000",
		LatestSubmission: time.Now().Add(-time.Minute),
	}
	r := &fixedRom{miss: mustHex("ffffffff" + repeatHex("00", 28))}

	_, err := s.Solve(context.Background(), wp, "wallet-1", challenge, r, time.Now)
	var expired *util.ChallengeExpired
	if err == nil {
		t.Fatal("expected ChallengeExpired error")
	}
	if !asChallengeExpired(err, &expired) {
		t.Fatalf("expected *util.ChallengeExpired, got %v (%T)", err, err)
	}
}

func asChallengeExpired(err error, target **util.ChallengeExpired) bool {
	if e, ok := err.(*util.ChallengeExpired); ok {
		*target = e
		return true
	}
	return false
}

func TestSolveReturnsStopSignalOnCancel(t *testing.T) {
	s := NewWithSource(&sequentialNonces{})
	wp := &domain.WorkerProfile{Job: domain.NewJobStats()}
	challenge := domain.Challenge{
		ID:               "chal-3",
		NoPreMine:        "premine-key",
		Difficulty:       "00000000",
		LatestSubmission: time.Now().Add(time.Hour),
	}
	r := &fixedRom{miss: mustHex("ffffffff" + repeatHex("00", 28))}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Solve(ctx, wp, "wallet-1", challenge, r, time.Now)
	if err != util.ErrStopSignal {
		t.Fatalf("expected ErrStopSignal, got %v", err)
	}
}

func TestSelectBestBatchSizeTieBreaksLarger(t *testing.T) {
	search := map[int][]float64{
		100:  {10.0},
		500:  {10.0},
		1000: {5.0},
	}
	if got := selectBestBatchSize(search); got != 500 {
		t.Fatalf("got %d, want 500 (tie-break toward larger batch)", got)
	}
}

func TestSelectBestBatchSizePicksHighestHashrate(t *testing.T) {
	search := map[int][]float64{
		100:   {10.0},
		10000: {50.0},
	}
	if got := selectBestBatchSize(search); got != 10000 {
		t.Fatalf("got %d, want 10000", got)
	}
}

func TestPreimageBaseIncludesFullSuffix(t *testing.T) {
	s := New()
	challenge := domain.Challenge{
		ID:               "D21C10",
		NoPreMine:        "deadbeef",
		NoPreMineHour:    "1730332800",
		Difficulty:       "0000ffff",
		LatestSubmission: time.Date(2025, 10, 30, 23, 59, 59, 0, time.UTC),
	}
	want := "wallet-1" + "D21C10" + "0000ffff" + "deadbeef" + "2025-10-30T23:59:59Z" + "1730332800"

	got := s.preimageBaseFor("wallet-1", challenge)
	if got != want {
		t.Fatalf("preimage base = %q, want %q", got, want)
	}
}

func TestPreimageBaseMemoizedPerAddressAndChallenge(t *testing.T) {
	s := New()
	challenge := domain.Challenge{ID: "c1", Difficulty: "00000000", NoPreMine: "pm", LatestSubmission: time.Now()}
	first := s.preimageBaseFor("wallet-1", challenge)
	second := s.preimageBaseFor("wallet-1", challenge)
	if first != second {
		t.Fatalf("expected memoized base to stay stable, got %q then %q", first, second)
	}
}

func TestMeetsDifficultyMaskSemantics(t *testing.T) {
	mask := uint32(0x000000FF) // low byte of the 4-byte window may be anything
	hashOK := mustHex("00000012" + repeatHex("00", 28))
	if !meetsDifficulty(hashOK, mask) {
		t.Fatal("expected hash to meet difficulty")
	}
	hashBad := mustHex("00001200" + repeatHex("00", 28))
	if meetsDifficulty(hashBad, mask) {
		t.Fatal("expected hash to fail difficulty")
	}
}
