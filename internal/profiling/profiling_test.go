package profiling

import (
	"net/http"
	"testing"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/config"
)

func TestNewServer(t *testing.T) {
	cfg := &config.ProfilingConfig{Enabled: true, Bind: "127.0.0.1:6060"}
	server := NewServer(cfg)
	if server == nil {
		t.Fatal("NewServer returned nil")
	}
	if server.server != nil {
		t.Error("server.server should be nil before Start()")
	}
}

func TestServerStartDisabled(t *testing.T) {
	cfg := &config.ProfilingConfig{Enabled: false, Bind: "127.0.0.1:6060"}
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Errorf("Start() returned error when disabled: %v", err)
	}
	if server.server != nil {
		t.Error("server.server should be nil when disabled")
	}
}

func TestServerStartStop(t *testing.T) {
	cfg := &config.ProfilingConfig{Enabled: true, Bind: "127.0.0.1:0"}
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := server.Stop(); err != nil {
		t.Errorf("Stop() returned error: %v", err)
	}
}

func TestProfilingEndpoints(t *testing.T) {
	cfg := &config.ProfilingConfig{Enabled: true, Bind: "127.0.0.1:16061"}
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	defer server.Stop()
	time.Sleep(200 * time.Millisecond)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://127.0.0.1:16061/debug/pprof/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStopNotStarted(t *testing.T) {
	cfg := &config.ProfilingConfig{Enabled: true, Bind: "127.0.0.1:6060"}
	server := NewServer(cfg)
	if err := server.Stop(); err != nil {
		t.Errorf("Stop() on unstarted server returned error: %v", err)
	}
}
