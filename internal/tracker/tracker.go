// Package tracker provides durable local storage for wallets,
// challenges, work assignments and solutions, backed by a single
// embedded bbolt file so state survives a process restart without any
// external database dependency.
package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/util"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWallets    = []byte("wallets")
	bucketChallenges = []byte("challenges")
	bucketWork       = []byte("work")
	bucketSolutions  = []byte("solutions")
)

// Tracker is the durable-storage contract the scheduler and
// maintenance loop depend on. *BoltTracker implements it against a
// real file; tests may supply an in-memory fake.
type Tracker interface {
	AddWallet(w domain.Wallet) error
	WalletExists(address string) (bool, error)
	GetWallets() ([]domain.Wallet, error)

	AddChallenge(c domain.Challenge) (inserted bool, err error)
	ChallengeExists(id string) (bool, error)
	GetChallenges(address string, statuses []domain.WorkStatus) ([]domain.Challenge, error)
	CountWork(address string, statuses []domain.WorkStatus) (int, error)
	GetOldestUnsolvedChallenge(address string, now time.Time) (*domain.Challenge, error)

	WorkExists(address, challengeID string) (bool, error)
	AddWork(w domain.Work) error
	UpdateWork(address, challengeID string, status domain.WorkStatus) error
	GetSolvingChallenge(address string) (*domain.Challenge, error)

	AddSolutionFound(s domain.Solution) error
	UpdateSolutionSubmission(address, challengeID string, status domain.SolutionStatus, statusCode int, message string) error
	GetFoundSolution(address, challengeID string) (*domain.Solution, error)

	Close() error
}

// BoltTracker is the bbolt-backed Tracker implementation.
type BoltTracker struct {
	db *bolt.DB
}

// Open creates/opens the bbolt file at path, creating the required
// buckets on first use.
func Open(path string) (*BoltTracker, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 30 * time.Second})
	if err != nil {
		return nil, &util.TrackerError{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketWallets, bucketChallenges, bucketWork, bucketSolutions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &util.TrackerError{Op: "init buckets", Err: err}
	}
	return &BoltTracker{db: db}, nil
}

func (t *BoltTracker) Close() error { return t.db.Close() }

// workKey builds the composite primary key address\x1Fchallenge_id
// used for both the work and solutions buckets, mirroring the
// composite-primary-key model of the original schema.
func workKey(address, challengeID string) []byte {
	return []byte(address + "\x1f" + challengeID)
}

// --- wallets ---

func (t *BoltTracker) AddWallet(w domain.Wallet) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		if b.Get([]byte(w.Address)) != nil {
			return nil // idempotent
		}
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put([]byte(w.Address), data)
	})
}

func (t *BoltTracker) WalletExists(address string) (bool, error) {
	var exists bool
	err := t.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketWallets).Get([]byte(address)) != nil
		return nil
	})
	return exists, err
}

func (t *BoltTracker) GetWallets() ([]domain.Wallet, error) {
	var wallets []domain.Wallet
	err := t.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWallets).ForEach(func(_, v []byte) error {
			var w domain.Wallet
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			wallets = append(wallets, w)
			return nil
		})
	})
	return wallets, err
}

// --- challenges ---

func (t *BoltTracker) AddChallenge(c domain.Challenge) (bool, error) {
	inserted := false
	err := t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketChallenges)
		if b.Get([]byte(c.ID)) != nil {
			return nil // idempotent: challenges are immutable once seen
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		inserted = true
		return b.Put([]byte(c.ID), data)
	})
	return inserted, err
}

func (t *BoltTracker) ChallengeExists(id string) (bool, error) {
	var exists bool
	err := t.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketChallenges).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

func (t *BoltTracker) getChallenge(tx *bolt.Tx, id string) (*domain.Challenge, error) {
	data := tx.Bucket(bucketChallenges).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var c domain.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetChallenges returns the LEFT JOIN of Challenges with Work on
// (address, challenge_id): a challenge is included when address has no
// Work row for it at all (never attempted), or when its Work row's
// status is in statuses. Only still-valid challenges are returned,
// ordered by latest submission deadline ascending (most urgent first),
// matching the original's order_by(latest_submission_dt.asc()).
func (t *BoltTracker) GetChallenges(address string, statuses []domain.WorkStatus) ([]domain.Challenge, error) {
	return t.challengesAt(address, statuses, time.Now())
}

func (t *BoltTracker) challengesAt(address string, statuses []domain.WorkStatus, now time.Time) ([]domain.Challenge, error) {
	want := make(map[domain.WorkStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.Challenge
	err := t.db.View(func(tx *bolt.Tx) error {
		ignore := make(map[string]bool)
		prefix := []byte(address + "\x1f")
		wc := tx.Bucket(bucketWork).Cursor()
		for k, v := wc.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = wc.Next() {
			var w domain.Work
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if !want[w.Status] {
				ignore[w.ChallengeID] = true
			}
		}

		return tx.Bucket(bucketChallenges).ForEach(func(_, v []byte) error {
			var c domain.Challenge
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if ignore[c.ID] || !c.IsValid(now) {
				return nil
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LatestSubmission.Before(out[j].LatestSubmission) })
	return out, nil
}

// CountWork returns the number of Work rows for address whose status is
// in statuses. Unlike GetChallenges it has no LEFT JOIN semantics — a
// challenge address never attempted contributes nothing — so it is the
// right primitive for literal "how many done/solving/etc" counts.
func (t *BoltTracker) CountWork(address string, statuses []domain.WorkStatus) (int, error) {
	want := make(map[domain.WorkStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	count := 0
	err := t.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(address + "\x1f")
		c := tx.Bucket(bucketWork).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var w domain.Work
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if want[w.Status] {
				count++
			}
		}
		return nil
	})
	return count, err
}

// GetOldestUnsolvedChallenge returns the valid challenge for address
// with the nearest submission deadline, excluding challenges that
// already have a Work row in Solving or Done — the single-result case
// of challengesAt restricted to Pending-or-absent work, the analogue of
// the original left-join-exclusion query.
func (t *BoltTracker) GetOldestUnsolvedChallenge(address string, now time.Time) (*domain.Challenge, error) {
	challenges, err := t.challengesAt(address, []domain.WorkStatus{domain.WorkPending}, now)
	if err != nil || len(challenges) == 0 {
		return nil, err
	}
	return &challenges[0], nil
}

// --- work ---

func (t *BoltTracker) WorkExists(address, challengeID string) (bool, error) {
	var exists bool
	err := t.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket(bucketWork).Get(workKey(address, challengeID)) != nil
		return nil
	})
	return exists, err
}

func (t *BoltTracker) AddWork(w domain.Work) error {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = time.Now()
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWork).Put(workKey(w.Address, w.ChallengeID), data)
	})
}

func (t *BoltTracker) UpdateWork(address, challengeID string, status domain.WorkStatus) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWork)
		key := workKey(address, challengeID)
		data := b.Get(key)
		var w domain.Work
		if data != nil {
			if err := json.Unmarshal(data, &w); err != nil {
				return err
			}
		} else {
			w = domain.Work{Address: address, ChallengeID: challengeID}
		}
		w.Status = status
		w.UpdatedAt = time.Now()
		encoded, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}

func (t *BoltTracker) GetSolvingChallenge(address string) (*domain.Challenge, error) {
	var found *domain.Challenge
	err := t.db.View(func(tx *bolt.Tx) error {
		prefix := []byte(address + "\x1f")
		c := tx.Bucket(bucketWork).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var w domain.Work
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.Status != domain.WorkSolving {
				continue
			}
			ch, err := t.getChallenge(tx, w.ChallengeID)
			if err != nil {
				return err
			}
			found = ch
			return nil
		}
		return nil
	})
	return found, err
}

// --- solutions ---

// AddSolutionFound records a newly-found solution and marks the
// matching Work row Done in a single transaction, satisfying the
// "atomic Work+Solution transition" requirement.
func (t *BoltTracker) AddSolutionFound(s domain.Solution) error {
	if s.Status == "" {
		s.Status = domain.SolutionFound
	}
	if s.FoundAt.IsZero() {
		s.FoundAt = time.Now()
	}
	return t.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketSolutions).Put(workKey(s.Address, s.ChallengeID), data); err != nil {
			return err
		}

		wb := tx.Bucket(bucketWork)
		key := workKey(s.Address, s.ChallengeID)
		var w domain.Work
		if wd := wb.Get(key); wd != nil {
			if err := json.Unmarshal(wd, &w); err != nil {
				return err
			}
		} else {
			w = domain.Work{Address: s.Address, ChallengeID: s.ChallengeID}
		}
		w.Status = domain.WorkDone
		w.UpdatedAt = time.Now()
		wEnc, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return wb.Put(key, wEnc)
	})
}

func (t *BoltTracker) UpdateSolutionSubmission(address, challengeID string, status domain.SolutionStatus, statusCode int, message string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSolutions)
		key := workKey(address, challengeID)
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("no solution found for %s/%s", address, challengeID)
		}
		var s domain.Solution
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s.Status = status
		s.StatusCode = statusCode
		s.Message = message
		encoded, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put(key, encoded)
	})
}

func (t *BoltTracker) GetFoundSolution(address, challengeID string) (*domain.Solution, error) {
	var sol *domain.Solution
	err := t.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSolutions).Get(workKey(address, challengeID))
		if data == nil {
			return nil
		}
		var s domain.Solution
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		sol = &s
		return nil
	})
	return sol, err
}

var _ Tracker = (*BoltTracker)(nil)
