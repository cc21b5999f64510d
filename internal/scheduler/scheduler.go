// Package scheduler runs the per-wallet mining loop: pick the oldest
// unsolved challenge, drive the solver to a solution, submit it, and
// hand worker threads to whichever wallets are currently most
// productive.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/backoff"
	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/notify"
	"github.com/scavenger-mine/orchestrator/internal/rpc"
	"github.com/scavenger-mine/orchestrator/internal/solver"
	"github.com/scavenger-mine/orchestrator/internal/tracker"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

// RomCache is the narrow Rom-cache capability the scheduler needs,
// satisfied by *rom.Cache in production and fakes in tests.
type RomCache interface {
	GetOrBuild(key string) (domain.Rom, error)
}

// RpcClient is the narrow remote-service capability the scheduler
// needs, satisfied by *rpc.Client in production.
type RpcClient interface {
	SubmitSolution(ctx context.Context, address, challengeID, nonceHex, hashHex string) (*rpc.SubmissionResponse, error)
}

// Deps bundles the Scheduler's collaborators so construction reads as
// one call instead of a long positional parameter list.
type Deps struct {
	Tracker    tracker.Tracker
	Solver     *solver.Solver
	Rom        RomCache
	Rpc        RpcClient
	Project    string
	Breaker    *backoff.Breaker
	Notifier   *notify.Notifier
	NumThreads int
}

// Scheduler owns one mine loop goroutine per wallet plus a selection
// loop that grants worker slots to the most productive wallets.
type Scheduler struct {
	deps Deps

	mu           sync.Mutex
	gates        map[string]*gate
	profiles     map[string]*domain.WorkerProfile
	expiryCounts map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Scheduler for wallets, not yet started.
func New(deps Deps, wallets []string) *Scheduler {
	s := &Scheduler{
		deps:         deps,
		gates:        make(map[string]*gate, len(wallets)),
		profiles:     make(map[string]*domain.WorkerProfile, len(wallets)),
		expiryCounts: make(map[string]int, len(wallets)),
	}
	for _, w := range wallets {
		s.gates[w] = newGate()
		s.profiles[w] = &domain.WorkerProfile{Address: w, Job: domain.NewJobStats()}
	}
	return s
}

// Start launches one mine loop per wallet plus the periodic selection
// loop, returning once all goroutines are running.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for addr := range s.gates {
		addr := addr
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.mineLoop(addr)
		}()
	}

	s.setActiveAddresses()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.selectionLoop()
	}()
}

// Stop cancels every mine loop and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) selectionLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.setActiveAddresses()
		}
	}
}

// setActiveAddresses ranks wallets by their count of Done work items
// (one per solution found, whatever its submission outcome) and grants
// active gates to the top NumThreads. Validated solutions count the same
// as Found or Invalid ones.
func (s *Scheduler) setActiveAddresses() {
	if s.deps.NumThreads <= 0 {
		s.mu.Lock()
		addrs := make([]string, 0, len(s.gates))
		for a := range s.gates {
			addrs = append(addrs, a)
		}
		s.mu.Unlock()
		for _, a := range addrs {
			s.gates[a].setActive(true)
		}
		return
	}

	type ranked struct {
		addr  string
		count int
	}
	s.mu.Lock()
	addrs := make([]string, 0, len(s.gates))
	for a := range s.gates {
		addrs = append(addrs, a)
	}
	s.mu.Unlock()

	ranks := make([]ranked, 0, len(addrs))
	for _, a := range addrs {
		count, err := s.deps.Tracker.CountWork(a, []domain.WorkStatus{domain.WorkDone})
		if err != nil {
			util.Errorf("scheduler: counting done work for %s: %v", a, err)
			count = 0
		}
		ranks = append(ranks, ranked{a, count})
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i].count > ranks[j].count })

	changed := false
	for i, r := range ranks {
		active := i < s.deps.NumThreads
		if s.gates[r.addr].setActive(active) {
			changed = true
		}
	}
	if changed {
		util.Typed(util.LogWorklist).Infow("active wallet selection updated", "num_threads", s.deps.NumThreads)
	}
}

func (s *Scheduler) mineLoop(address string) {
	gate := s.gates[address]
	stop := s.ctx.Done()
	for {
		if !gate.waitActive(stop) {
			return
		}
		select {
		case <-stop:
			return
		default:
		}

		challenge, err := s.deps.Tracker.GetOldestUnsolvedChallenge(address, time.Now())
		if err != nil {
			util.Errorf("scheduler: fetching oldest unsolved challenge for %s: %v", address, err)
			sleepOrStop(10*time.Second, stop)
			continue
		}
		if challenge == nil {
			sleepOrStop(10*time.Second, stop)
			continue
		}

		s.solveChallenge(address, *challenge)
		sleepOrStop(500*time.Millisecond, stop)
	}
}

func sleepOrStop(d time.Duration, stop <-chan struct{}) {
	select {
	case <-time.After(d):
	case <-stop:
	}
}

// solveChallenge drives one challenge to completion for address: reuse
// a cached solution if one exists, otherwise dispatch the solver
// (after recording Work as Solving, per the required ordering), then
// submit whatever solution results.
func (s *Scheduler) solveChallenge(address string, challenge domain.Challenge) {
	util.Typed(util.LogStartNewChallenge).Infow("starting challenge", "address", address, "challenge", challenge.ID)

	sol, err := s.deps.Tracker.GetFoundSolution(address, challenge.ID)
	if err != nil {
		util.Errorf("scheduler: checking cached solution for %s/%s: %v", address, challenge.ID, err)
		return
	}

	if sol == nil {
		if !challenge.IsValid(time.Now()) {
			s.recordExpiry(address)
			return
		}

		if err := s.deps.Tracker.AddWork(domain.Work{Address: address, ChallengeID: challenge.ID, Status: domain.WorkSolving}); err != nil {
			util.Errorf("scheduler: marking work solving for %s/%s: %v", address, challenge.ID, err)
			return
		}

		r, err := s.deps.Rom.GetOrBuild(challenge.NoPreMine)
		if err != nil {
			if s.deps.Notifier != nil {
				s.deps.Notifier.NotifyRomBuildError(s.ctx, challenge.NoPreMine, err)
			}
			util.Errorf("scheduler: rom build failed for %s: %v", challenge.NoPreMine, err)
			return
		}

		profile := s.profileFor(address)
		found, err := s.deps.Solver.Solve(s.ctx, profile, address, challenge, r, time.Now)
		if err != nil {
			switch err.(type) {
			case *util.ChallengeExpired:
				s.recordExpiry(address)
			case *util.RomBuildError:
				if s.deps.Notifier != nil {
					s.deps.Notifier.NotifyRomBuildError(s.ctx, challenge.NoPreMine, err)
				}
			}
			return
		}
		s.clearExpiry(address)

		if err := s.deps.Tracker.AddSolutionFound(*found); err != nil {
			util.Errorf("scheduler: recording solution for %s/%s: %v", address, challenge.ID, err)
			return
		}
		sol = found
		util.Typed(util.LogSolutionFound).Infow("solution found", "address", address, "challenge", challenge.ID, "tries", sol.Tries)
		s.deps.Solver.ForgetChallenge(address, challenge.ID)
	} else {
		util.Typed(util.LogSolutionFound).Infow("cached solution found", "address", address, "challenge", challenge.ID)
		if err := s.deps.Tracker.UpdateWork(address, challenge.ID, domain.WorkDone); err != nil {
			util.Errorf("scheduler: marking work done for %s/%s: %v", address, challenge.ID, err)
			return
		}
	}

	select {
	case <-s.ctx.Done():
		return
	default:
	}

	if s.deps.Breaker != nil && !s.deps.Breaker.Allow(s.deps.Project) {
		util.Typed(util.LogSolutionSubmission).Warnw("submission circuit open, will retry next cycle", "address", address, "challenge", challenge.ID)
		if err := s.deps.Tracker.UpdateWork(address, challenge.ID, domain.WorkPending); err != nil {
			util.Errorf("scheduler: requeueing work for %s/%s: %v", address, challenge.ID, err)
		}
		return
	}

	resp, err := s.deps.Rpc.SubmitSolution(s.ctx, address, challenge.ID, sol.NonceHex, sol.HashHex)
	if err != nil {
		if s.deps.Breaker != nil {
			s.deps.Breaker.RecordFailure(s.deps.Project)
		}
		util.Typed(util.LogSolutionSubmission).Warnw("submission failed, will retry next cycle", "address", address, "challenge", challenge.ID, "error", err)
		// Back to Pending so the next cycle picks the challenge again
		// and resubmits the stored solution.
		if err := s.deps.Tracker.UpdateWork(address, challenge.ID, domain.WorkPending); err != nil {
			util.Errorf("scheduler: requeueing work for %s/%s: %v", address, challenge.ID, err)
		}
		sleepOrStop(time.Second, s.ctx.Done())
		return
	}
	if s.deps.Breaker != nil {
		s.deps.Breaker.RecordSuccess(s.deps.Project)
	}

	if resp.Accepted() {
		if err := s.deps.Tracker.UpdateSolutionSubmission(address, challenge.ID, domain.SolutionValidated, 200, ""); err != nil {
			util.Errorf("scheduler: recording validated solution for %s/%s: %v", address, challenge.ID, err)
		}
		util.Typed(util.LogSolutionSubmission).Infow("solution validated", "address", address, "challenge", challenge.ID)
		return
	}

	if err := s.deps.Tracker.UpdateSolutionSubmission(address, challenge.ID, domain.SolutionInvalid, resp.StatusCode, resp.Message); err != nil {
		util.Errorf("scheduler: recording invalid solution for %s/%s: %v", address, challenge.ID, err)
	}
	util.Typed(util.LogSolutionSubmission).Warnw("solution invalid", "address", address, "challenge", challenge.ID, "status_code", resp.StatusCode, "message", resp.Message)
	if s.deps.Notifier != nil {
		s.deps.Notifier.NotifySolutionInvalid(s.ctx, address, challenge.ID, resp.Message)
	}
}

func (s *Scheduler) profileFor(address string) *domain.WorkerProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[address]
}

// Hashrate reports address's most recently observed hashes/sec, for
// the maintenance loop and diagnostics API to surface.
func (s *Scheduler) Hashrate(address string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[address]
	if !ok || p.Job == nil {
		return 0
	}
	return p.Job.LastHashrate
}

func (s *Scheduler) recordExpiry(address string) {
	s.mu.Lock()
	s.expiryCounts[address]++
	count := s.expiryCounts[address]
	s.mu.Unlock()

	util.Typed(util.LogFetchNewChallenge).Warnw("challenge expired", "address", address, "consecutive", count)
	if count >= 5 && s.deps.Notifier != nil {
		s.deps.Notifier.NotifyChallengeExpiryStorm(s.ctx, address, count)
	}
}

func (s *Scheduler) clearExpiry(address string) {
	s.mu.Lock()
	s.expiryCounts[address] = 0
	s.mu.Unlock()
}
