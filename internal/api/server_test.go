package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/config"
	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/rpc"
)

type fakeTracker struct{}

func (fakeTracker) AddWallet(domain.Wallet) error       { return nil }
func (fakeTracker) WalletExists(string) (bool, error)   { return true, nil }
func (fakeTracker) GetWallets() ([]domain.Wallet, error) { return nil, nil }
func (fakeTracker) AddChallenge(domain.Challenge) (bool, error) { return true, nil }
func (fakeTracker) ChallengeExists(string) (bool, error)        { return false, nil }
func (fakeTracker) GetChallenges(address string, statuses []domain.WorkStatus) ([]domain.Challenge, error) {
	return []domain.Challenge{{ID: "c1", NoPreMine: "pm1"}}, nil
}
func (fakeTracker) GetOldestUnsolvedChallenge(string, time.Time) (*domain.Challenge, error) {
	return nil, nil
}
func (fakeTracker) CountWork(string, []domain.WorkStatus) (int, error) { return 0, nil }
func (fakeTracker) WorkExists(string, string) (bool, error)  { return false, nil }
func (fakeTracker) AddWork(domain.Work) error                { return nil }
func (fakeTracker) UpdateWork(string, string, domain.WorkStatus) error { return nil }
func (fakeTracker) GetSolvingChallenge(string) (*domain.Challenge, error) { return nil, nil }
func (fakeTracker) AddSolutionFound(domain.Solution) error    { return nil }
func (fakeTracker) UpdateSolutionSubmission(string, string, domain.SolutionStatus, int, string) error {
	return nil
}
func (fakeTracker) GetFoundSolution(string, string) (*domain.Solution, error) { return nil, nil }
func (fakeTracker) Close() error                                             { return nil }

type fakeRomCache struct{}

func (fakeRomCache) Status() map[string]int64 { return map[string]int64{"pm1": 1024} }

type fakeRpc struct{}

func (fakeRpc) GetStatistics(ctx context.Context, address string) (rpc.Statistics, error) {
	return rpc.Statistics{"solved": 3}, nil
}

func newTestServer() *Server {
	cfg := &config.APIConfig{Enabled: true, Bind: ":0", StatsCacheTTL: 5 * time.Second}
	deps := Deps{
		Tracker:  fakeTracker{},
		Rom:      fakeRomCache{},
		Rpc:      fakeRpc{},
		Hashrate: func(address string) float64 { return 42.5 },
		Wallets:  []string{"addr1"},
	}
	return NewServer(cfg, deps)
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHandleWorklist(t *testing.T) {
	s := newTestServer()
	rec := do(s, http.MethodGet, "/worklist/addr1")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["address"] != "addr1" {
		t.Errorf("address = %v, want addr1", body["address"])
	}
}

func TestHandleHashrate(t *testing.T) {
	s := newTestServer()
	rec := do(s, http.MethodGet, "/hashrate")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStatisticsCaches(t *testing.T) {
	s := newTestServer()
	rec1 := do(s, http.MethodGet, "/statistics/addr1")
	if rec1.Code != 200 {
		t.Fatalf("status = %d, want 200", rec1.Code)
	}
	rec2 := do(s, http.MethodGet, "/statistics/addr1")
	if rec2.Code != 200 {
		t.Fatalf("status = %d, want 200", rec2.Code)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Fatalf("second response = %s, want cached %s", rec2.Body.String(), rec1.Body.String())
	}
}

func TestHandleRomCache(t *testing.T) {
	s := newTestServer()
	rec := do(s, http.MethodGet, "/rom-cache")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer()
	rec := do(s, http.MethodGet, "/health")
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
