package newrelic

import (
	"context"
	"testing"

	"github.com/scavenger-mine/orchestrator/internal/config"
)

func TestNewAgent(t *testing.T) {
	cfg := &config.NewRelicConfig{Enabled: true, AppName: "Test", LicenseKey: "test_key"}
	agent := NewAgent(cfg)
	if agent == nil {
		t.Fatal("NewAgent returned nil")
	}
	if agent.app != nil {
		t.Error("agent.app should be nil before Start()")
	}
}

func TestStartDisabled(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	if err := agent.Start(); err != nil {
		t.Errorf("Start() returned error when disabled: %v", err)
	}
	if agent.IsEnabled() {
		t.Error("IsEnabled() should be false when disabled")
	}
}

func TestStartNoLicenseKey(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: true, AppName: "Test", LicenseKey: ""})
	if err := agent.Start(); err != nil {
		t.Errorf("Start() returned error with empty license key: %v", err)
	}
	if agent.IsEnabled() {
		t.Error("IsEnabled() should be false with empty license key")
	}
}

func TestStopNotStarted(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	agent.Stop()
}

func TestStartTransactionNotStarted(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	if txn := agent.StartTransaction("test"); txn != nil {
		t.Error("StartTransaction() should return nil when not started")
	}
}

func TestRecordEventsNotStarted(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	agent.RecordSolutionFound("addr1", "c1", 42)
	agent.RecordSolutionSubmission("addr1", "c1", true, 200)
	agent.RecordChallengeExpired("addr1", "c1")
	agent.RecordRomCacheEviction("pm1", 1024)
	agent.UpdateHashrateMetrics("addr1", 123.4)
	agent.UpdateRomCacheMetrics(2, 2048)
}

func TestNewContextNilTransaction(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	ctx := context.Background()
	if result := agent.NewContext(ctx, nil); result != ctx {
		t.Error("NewContext should return original context when txn is nil")
	}
}

func TestFromContextEmpty(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	if txn := agent.FromContext(context.Background()); txn != nil {
		t.Error("FromContext should return nil for empty context")
	}
}

func TestConcurrentAccess(t *testing.T) {
	agent := NewAgent(&config.NewRelicConfig{Enabled: false})
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			agent.IsEnabled()
			agent.StartTransaction("test")
			agent.RecordCustomEvent("test", nil)
			agent.RecordCustomMetric("test", 1.0)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
