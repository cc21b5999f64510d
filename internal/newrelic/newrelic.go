// Package newrelic provides optional APM instrumentation for the
// orchestrator: custom events and metrics describing solving and
// submission activity.
package newrelic

import (
	"context"
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/scavenger-mine/orchestrator/internal/config"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

// Agent wraps the New Relic application, tolerating a disabled or
// unconfigured setup by making every call a no-op.
type Agent struct {
	cfg *config.NewRelicConfig

	mu  sync.RWMutex
	app *newrelic.Application
}

// NewAgent returns an Agent for cfg, not yet started.
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{cfg: cfg}
}

// Start connects the New Relic application, or is a no-op if disabled
// or missing a license key.
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("new relic apm disabled")
		return nil
	}
	if a.cfg.LicenseKey == "" {
		util.Warn("new relic license key not configured, apm disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}
	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("new relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()
	util.Infof("new relic apm enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic application, if connected.
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()
	if app != nil {
		util.Info("shutting down new relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// IsEnabled reports whether the agent is connected.
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// StartTransaction starts a named transaction, or returns nil if the
// agent is disabled.
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()
	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

// RecordCustomEvent records a custom event, a no-op when disabled.
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()
	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric, a no-op when disabled.
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()
	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// NoticeError attaches err to txn, tolerating either being nil.
func (a *Agent) NoticeError(txn *newrelic.Transaction, err error) {
	if txn != nil && err != nil {
		txn.NoticeError(err)
	}
}

// NewContext attaches txn to ctx, tolerating a nil txn.
func (a *Agent) NewContext(ctx context.Context, txn *newrelic.Transaction) context.Context {
	if txn == nil {
		return ctx
	}
	return newrelic.NewContext(ctx, txn)
}

// FromContext retrieves a transaction previously attached via NewContext.
func (a *Agent) FromContext(ctx context.Context) *newrelic.Transaction {
	return newrelic.FromContext(ctx)
}

// RecordSolutionFound records a solution being found for address.
func (a *Agent) RecordSolutionFound(address, challengeID string, tries uint64) {
	a.RecordCustomEvent("SolutionFound", map[string]interface{}{
		"address":      address,
		"challenge_id": challengeID,
		"tries":        tries,
	})
}

// RecordSolutionSubmission records a submission outcome.
func (a *Agent) RecordSolutionSubmission(address, challengeID string, accepted bool, statusCode int) {
	status := "accepted"
	if !accepted {
		status = "rejected"
	}
	a.RecordCustomEvent("SolutionSubmission", map[string]interface{}{
		"address":      address,
		"challenge_id": challengeID,
		"status":       status,
		"status_code":  statusCode,
	})
}

// RecordChallengeExpired records a challenge expiring before it could
// be solved or submitted.
func (a *Agent) RecordChallengeExpired(address, challengeID string) {
	a.RecordCustomEvent("ChallengeExpired", map[string]interface{}{
		"address":      address,
		"challenge_id": challengeID,
	})
}

// RecordRomCacheEviction records a ROM cache entry being dropped.
func (a *Agent) RecordRomCacheEviction(key string, sizeBytes int64) {
	a.RecordCustomEvent("RomCacheEviction", map[string]interface{}{
		"key":        key,
		"size_bytes": sizeBytes,
	})
}

// UpdateHashrateMetrics records a wallet's hashrate under one shared
// custom metric name; address is not part of the metric.
func (a *Agent) UpdateHashrateMetrics(address string, hashesPerSec float64) {
	a.RecordCustomMetric("Custom/Wallet/Hashrate", hashesPerSec)
	_ = address
}

// UpdateRomCacheMetrics records aggregate ROM cache footprint.
func (a *Agent) UpdateRomCacheMetrics(entries int, totalBytes int64) {
	a.RecordCustomMetric("Custom/RomCache/Entries", float64(entries))
	a.RecordCustomMetric("Custom/RomCache/Bytes", float64(totalBytes))
}
