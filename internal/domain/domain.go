// Package domain defines the entities shared by the tracker, solver
// and scheduler: wallets, challenges, work items and solutions.
package domain

import "time"

// Wallet identifies an address the orchestrator solves challenges on
// behalf of.
type Wallet struct {
	Address     string
	Project     string // "midnight" or "defensio"
	RegisteredAt time.Time
}

// Challenge is a unit of proof-of-work issued by the remote service.
type Challenge struct {
	ID                string
	NoPreMine         string // ROM cache key
	NoPreMineHour     string // preimage suffix component
	Difficulty        string // 8+ hex chars; first 4 bytes are the mask
	LatestSubmission  time.Time
	FetchedAt         time.Time
}

// IsValid reports whether the challenge can still be submitted against,
// matching the original "latest_submission_dt >= now + 10s" rule: a
// challenge that expires within the next ten seconds is treated as
// already expired since a solve/submit round trip cannot beat it.
func (c Challenge) IsValid(now time.Time) bool {
	return !c.LatestSubmission.Before(now.Add(10 * time.Second))
}

// WorkStatus is the lifecycle state of a Work item.
type WorkStatus string

const (
	WorkPending WorkStatus = "pending"
	WorkSolving WorkStatus = "solving"
	WorkDone    WorkStatus = "done"
)

// Work binds a wallet to a challenge it is (or was) being solved for.
type Work struct {
	Address     string
	ChallengeID string
	Status      WorkStatus
	UpdatedAt   time.Time
}

// SolutionStatus is the lifecycle state of a Solution.
type SolutionStatus string

const (
	SolutionFound     SolutionStatus = "found"
	SolutionValidated SolutionStatus = "validated"
	SolutionInvalid   SolutionStatus = "invalid"
)

// Solution is a nonce/hash pair satisfying a challenge's difficulty,
// plus the submission outcome once known.
type Solution struct {
	Address     string
	ChallengeID string
	NonceHex    string
	HashHex     string
	Tries       uint64
	Status      SolutionStatus
	StatusCode  int
	Message     string
	FoundAt     time.Time
}

// JobStats accumulates per-challenge solving counters.
type JobStats struct {
	Tries           uint64
	BatchSizeSearch map[int][]float64 // batch size -> observed hashrates during search
	LastHashrate    float64           // most recent observed hashes/sec, any phase
}

// NewJobStats returns a zeroed JobStats ready for a new challenge.
func NewJobStats() *JobStats {
	return &JobStats{BatchSizeSearch: make(map[int][]float64)}
}

// WorkerProfile tracks per-wallet solving state carried across
// challenges: the best batch size discovered and the active job.
type WorkerProfile struct {
	Address       string
	BestBatchSize int
	Job           *JobStats
}

// Rom is the capability a Solver needs from a memory-hard ROM: batch
// hashing of preimages. Concrete construction lives in package rom;
// tests may supply a fake satisfying this interface.
type Rom interface {
	HashBatch(preimages []string) ([][]byte, error)
	SizeBytes() int64
}
