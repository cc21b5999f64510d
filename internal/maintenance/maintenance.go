// Package maintenance runs the background cadences that keep the
// orchestrator's state fresh without sitting on the hot solving path:
// fetching new challenges, logging worklist/hashrate summaries,
// trimming the ROM cache and watching system memory pressure.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/mem"
	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/rpc"
	"github.com/scavenger-mine/orchestrator/internal/tracker"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

// RpcClient is the narrow capability MaintenanceLoop needs from the
// remote service.
type RpcClient interface {
	GetChallenge(ctx context.Context, address string) (*rpc.ChallengeResponse, error)
}

// RomCache is the narrow capability MaintenanceLoop needs from the ROM
// cache: periodic trimming and a status snapshot.
type RomCache interface {
	Maintain(needed []string)
	Status() map[string]int64
}

// HashrateProvider reports a wallet's current observed hashrate, as
// tracked by the solver's JobStats; wired by the caller since that
// state lives with the scheduler's WorkerProfiles.
type HashrateProvider func(address string) float64

// Cadences carries the intervals from spec §4.7's cadence table.
type Cadences struct {
	RetrieveChallenge time.Duration
	ShowWorklist      time.Duration
	ShowHashrate      time.Duration
	MaintainRomCache  time.Duration
	MemoryCheck       time.Duration
}

// DefaultCadences matches the reference intervals.
func DefaultCadences() Cadences {
	return Cadences{
		RetrieveChallenge: 60 * time.Second,
		ShowWorklist:      20 * time.Minute,
		ShowHashrate:      10 * time.Minute,
		MaintainRomCache:  30 * time.Minute,
		MemoryCheck:       10 * time.Minute,
	}
}

// Deps bundles MaintenanceLoop's collaborators.
type Deps struct {
	Tracker          tracker.Tracker
	Rpc              RpcClient
	Rom              RomCache
	Wallets          []string
	Cadences         Cadences
	Hashrate         HashrateProvider
	AvgRomSizeBytes  uint64
	MemPressurePct   float64
}

// MaintenanceLoop owns the background cadence goroutines.
type MaintenanceLoop struct {
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a MaintenanceLoop, not yet started.
func New(deps Deps) *MaintenanceLoop {
	if deps.Cadences == (Cadences{}) {
		deps.Cadences = DefaultCadences()
	}
	if deps.MemPressurePct == 0 {
		deps.MemPressurePct = 80.0
	}
	return &MaintenanceLoop{deps: deps}
}

// Start launches all cadence goroutines.
func (m *MaintenanceLoop) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	loops := []struct {
		interval time.Duration
		fn       func()
	}{
		{m.deps.Cadences.RetrieveChallenge, m.retrieveNewChallenges},
		{m.deps.Cadences.ShowWorklist, m.showWorklist},
		{m.deps.Cadences.ShowHashrate, m.showHashrate},
		{m.deps.Cadences.MaintainRomCache, m.maintainRomCache},
		{m.deps.Cadences.MemoryCheck, m.checkMemory},
	}
	for _, l := range loops {
		l := l
		if l.interval <= 0 {
			continue
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runCadence(l.interval, l.fn)
		}()
	}
}

// Stop cancels all cadence goroutines and waits for them to exit.
func (m *MaintenanceLoop) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *MaintenanceLoop) runCadence(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// retrieveNewChallenges fetches the current challenge for every wallet
// and records it idempotently, logging only newly seen challenges.
func (m *MaintenanceLoop) retrieveNewChallenges() {
	for _, addr := range m.deps.Wallets {
		resp, err := m.deps.Rpc.GetChallenge(m.ctx, addr)
		if err != nil {
			util.Typed(util.LogFetchNewChallenge).Warnw("fetch new challenge failed", "address", addr, "error", err)
			continue
		}
		if resp.Code != rpc.ChallengeActive && resp.Code != "" {
			continue
		}
		c := domain.Challenge{
			ID:               resp.ChallengeID,
			NoPreMine:        resp.NoPreMine,
			NoPreMineHour:    resp.NoPreMineHour,
			Difficulty:       resp.Difficulty,
			LatestSubmission: resp.LatestSubmission,
			FetchedAt:        time.Now(),
		}
		inserted, err := m.deps.Tracker.AddChallenge(c)
		if err != nil {
			util.Typed(util.LogFetchNewChallenge).Errorw("recording challenge failed", "address", addr, "error", err)
			continue
		}
		if inserted {
			util.Typed(util.LogFetchNewChallenge).Infow("new challenge", "address", addr, "challenge", c.ID)
		}
	}
}

func (m *MaintenanceLoop) showWorklist() {
	for _, addr := range m.deps.Wallets {
		done, _ := m.deps.Tracker.CountWork(addr, []domain.WorkStatus{domain.WorkDone})
		util.Typed(util.LogWorklist).Infow("worklist", "address", addr, "done_count", done)
	}
}

func (m *MaintenanceLoop) showHashrate() {
	if m.deps.Hashrate == nil {
		return
	}
	for _, addr := range m.deps.Wallets {
		util.Typed(util.LogHashrate).Infow("hashrate", "address", addr, "hashes_per_sec", m.deps.Hashrate(addr))
	}
}

// maintainRomCache keeps only the ROMs needed by challenges that still
// have outstanding (non-Done) work across all wallets.
func (m *MaintenanceLoop) maintainRomCache() {
	needed := make(map[string]bool)
	nonDone := []domain.WorkStatus{domain.WorkPending, domain.WorkSolving}
	for _, addr := range m.deps.Wallets {
		challenges, err := m.deps.Tracker.GetChallenges(addr, nonDone)
		if err != nil {
			util.Typed(util.LogCacheStatus).Errorw("listing challenges for cache maintenance failed", "address", addr, "error", err)
			continue
		}
		for _, c := range challenges {
			needed[c.NoPreMine] = true
		}
	}
	keys := make([]string, 0, len(needed))
	for k := range needed {
		keys = append(keys, k)
	}
	m.deps.Rom.Maintain(keys)
	util.Typed(util.LogCacheStatus).Infow("rom cache status", "status", m.deps.Rom.Status())
}

// checkMemory watches system memory pressure: if used percentage
// exceeds the configured threshold, or available memory drops below
// one ROM's average footprint, it is logged so the operator can
// intervene (e.g. reduce num_threads or the configured ROM size).
func (m *MaintenanceLoop) checkMemory() {
	vm, err := mem.VirtualMemory()
	if err != nil {
		util.Typed(util.LogMemory).Errorw("reading memory stats failed", "error", err)
		return
	}
	msg := fmt.Sprintf("used=%.1f%% available=%d", vm.UsedPercent, vm.Available)
	if vm.UsedPercent > m.deps.MemPressurePct || (m.deps.AvgRomSizeBytes > 0 && vm.Available < m.deps.AvgRomSizeBytes) {
		util.Typed(util.LogMemory).Warnw("memory pressure", "detail", msg)
	} else {
		util.Typed(util.LogMemory).Debugw("memory ok", "detail", msg)
	}
}
