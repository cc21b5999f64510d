// Package solver implements the adaptive-batch-size proof-of-work
// search: an initial exploration across candidate batch sizes to pick
// the fastest one for the current machine, followed by a steady-state
// loop at that batch size until a solution is found, the challenge
// expires, or the caller cancels.
package solver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/nonce"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

// SearchBatchSizes are the candidate batch sizes explored before
// settling into steady-state solving.
var SearchBatchSizes = []int{100, 500, 1000, 5000, 10000}

// SearchPasses is the number of times each candidate batch size is
// tried during the exploration phase, to average out noise.
const SearchPasses = 3

// NonceSource is the narrow interface Solver depends on, satisfied by
// *nonce.Source in production and by deterministic fakes in tests.
type NonceSource interface {
	Next() (uint64, error)
}

// Solver runs the batch-hash search loop for one machine. It is shared
// across wallets; per-wallet state (best batch size, job stats) lives in
// the caller-supplied WorkerProfile, while preimage bases are memoized
// on the Solver per (address, challenge).
type Solver struct {
	nonces NonceSource

	preimageBaseMu sync.Mutex
	preimageBase   map[string]string // "address|challengeID" -> base string
}

// New returns a Solver drawing nonces from its own buffered source.
func New() *Solver {
	return NewWithSource(nonce.NewSource())
}

// NewWithSource returns a Solver drawing nonces from src, for tests
// that need deterministic nonce sequences.
func NewWithSource(src NonceSource) *Solver {
	return &Solver{
		nonces:       src,
		preimageBase: make(map[string]string),
	}
}

// Solve runs the full search-then-steady loop for one challenge on
// behalf of address, returning the first solution found. It returns
// util.ErrStopSignal if ctx is cancelled, or *util.ChallengeExpired if
// the challenge's validity window elapses before a solution is found.
func (s *Solver) Solve(ctx context.Context, wp *domain.WorkerProfile, address string, challenge domain.Challenge, r domain.Rom, now func() time.Time) (*domain.Solution, error) {
	mask, err := ParseDifficultyMask(challenge.Difficulty)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}

	base := s.preimageBaseFor(address, challenge)
	if wp.Job == nil {
		wp.Job = domain.NewJobStats()
	} else {
		// Counters are per challenge: start this one from zero.
		wp.Job.Tries = 0
		wp.Job.BatchSizeSearch = make(map[int][]float64)
	}

	if !challenge.IsValid(now()) {
		return nil, &util.ChallengeExpired{ChallengeID: challenge.ID}
	}
	select {
	case <-ctx.Done():
		return nil, util.ErrStopSignal
	default:
	}

	// Search phase: explore each candidate batch size SearchPasses
	// times, recording observed hashrate.
	for pass := 0; pass < SearchPasses; pass++ {
		for _, batchSize := range SearchBatchSizes {
			if err := checkLiveness(ctx, challenge, now); err != nil {
				return nil, err
			}
			sol, err := s.tryOnceWithBatch(base, address, challenge, batchSize, r, mask, wp.Job, true)
			if err != nil {
				return nil, err
			}
			if sol != nil {
				return sol, nil
			}
		}
	}

	wp.BestBatchSize = selectBestBatchSize(wp.Job.BatchSizeSearch)
	util.Typed(util.LogBatchSizeSearch).Infow("selected batch size", "address", address, "challenge", challenge.ID, "batch_size", wp.BestBatchSize)

	// Steady phase: loop at the selected batch size.
	for {
		if err := checkLiveness(ctx, challenge, now); err != nil {
			return nil, err
		}
		sol, err := s.tryOnceWithBatch(base, address, challenge, wp.BestBatchSize, r, mask, wp.Job, false)
		if err != nil {
			return nil, err
		}
		if sol != nil {
			return sol, nil
		}
	}
}

func checkLiveness(ctx context.Context, challenge domain.Challenge, now func() time.Time) error {
	select {
	case <-ctx.Done():
		return util.ErrStopSignal
	default:
	}
	if !challenge.IsValid(now()) {
		return &util.ChallengeExpired{ChallengeID: challenge.ID}
	}
	return nil
}

// selectBestBatchSize picks the batch size with the highest mean
// observed hashrate; ties are broken in favor of the larger batch size,
// since it amortizes per-batch overhead better at equal throughput.
func selectBestBatchSize(search map[int][]float64) int {
	best := 0
	bestAvg := -1.0
	for batchSize, rates := range search {
		if len(rates) == 0 {
			continue
		}
		sum := 0.0
		for _, r := range rates {
			sum += r
		}
		avg := sum / float64(len(rates))
		if avg > bestAvg || (avg == bestAvg && batchSize > best) {
			bestAvg = avg
			best = batchSize
		}
	}
	if best == 0 && len(SearchBatchSizes) > 0 {
		best = SearchBatchSizes[len(SearchBatchSizes)-1]
	}
	return best
}

// tryOnceWithBatch generates batchSize preimages, hashes them in one
// batch call and scans for a difficulty hit. On a hit, tries advances
// by idx+1; on a full miss it advances by batchSize. When isSearch is
// set, the observed hashrate is recorded for batch-size selection.
func (s *Solver) tryOnceWithBatch(base, address string, challenge domain.Challenge, batchSize int, r domain.Rom, mask uint32, job *domain.JobStats, isSearch bool) (*domain.Solution, error) {
	preimages := make([]string, batchSize)
	nonceHexes := make([]string, batchSize)
	for i := 0; i < batchSize; i++ {
		n, err := s.nonces.Next()
		if err != nil {
			return nil, fmt.Errorf("solver: %w", err)
		}
		nh := util.Uint64ToHex16(n)
		nonceHexes[i] = nh
		preimages[i] = nh + base
	}

	start := time.Now()
	hashes, err := r.HashBatch(preimages)
	if err != nil {
		return nil, &util.RomBuildError{Key: challenge.NoPreMine, Err: err}
	}
	elapsed := time.Since(start).Seconds()

	for idx, h := range hashes {
		if meetsDifficulty(h, mask) {
			job.Tries += uint64(idx + 1)
			return &domain.Solution{
				Address:     address,
				ChallengeID: challenge.ID,
				NonceHex:    nonceHexes[idx],
				HashHex:     util.BytesToHex(h),
				Tries:       job.Tries,
				Status:      domain.SolutionFound,
				FoundAt:     time.Now(),
			}, nil
		}
	}

	job.Tries += uint64(batchSize)
	if elapsed > 0 {
		hashrate := float64(batchSize) / elapsed
		job.LastHashrate = hashrate
		if isSearch {
			job.BatchSizeSearch[batchSize] = append(job.BatchSizeSearch[batchSize], hashrate)
		}
	}
	return nil, nil
}

// preimageBaseFor returns the address/challenge-id/difficulty/no-pre-mine/
// latest-submission/no-pre-mine-hour suffix that every nonce in this
// challenge's search is hashed against, memoized per (address,
// challenge.ID) since it never changes mid-search.
func (s *Solver) preimageBaseFor(address string, challenge domain.Challenge) string {
	key := address + "|" + challenge.ID
	s.preimageBaseMu.Lock()
	defer s.preimageBaseMu.Unlock()
	if base, ok := s.preimageBase[key]; ok {
		return base
	}
	base := address + challenge.ID + challenge.Difficulty + challenge.NoPreMine +
		challenge.LatestSubmission.UTC().Format("2006-01-02T15:04:05Z") + challenge.NoPreMineHour
	s.preimageBase[key] = base
	return base
}

// ForgetChallenge drops any cached preimage base for address/challenge,
// called once a challenge is no longer being worked.
func (s *Solver) ForgetChallenge(address, challengeID string) {
	s.preimageBaseMu.Lock()
	defer s.preimageBaseMu.Unlock()
	delete(s.preimageBase, address+"|"+challengeID)
}
