// Package config loads and validates the orchestrator's configuration
// from a YAML file plus environment overrides, using Viper the same
// way the pool's own configuration loader does.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfig selects the remote service and its endpoint override.
type ProjectConfig struct {
	Name        string `mapstructure:"name"`
	BaseURLOverride string `mapstructure:"base_url_override"`
}

// MiningConfig holds batch-size search settings. The solver does not
// read them; it uses solver.SearchBatchSizes and solver.SearchPasses.
type MiningConfig struct {
	SearchBatchSizes []int `mapstructure:"search_batch_sizes"`
	SearchPasses     int   `mapstructure:"search_passes"`
}

// SchedulerConfig controls how many wallets get active worker threads
// concurrently.
type SchedulerConfig struct {
	NumThreads int `mapstructure:"num_threads"`
}

// TrackerConfig points at the durable bbolt store.
type TrackerConfig struct {
	Path string `mapstructure:"path"`
}

// RomConfig tunes ROM construction and cache maintenance cadence.
type RomConfig struct {
	SizeBytes         int64         `mapstructure:"size_bytes"`
	PreSizeBytes      int64         `mapstructure:"pre_size_bytes"`
	MixingNumbers     int           `mapstructure:"mixing_numbers"`
	MaintainInterval  time.Duration `mapstructure:"maintain_interval"`
	MemPressurePct    float64       `mapstructure:"mem_pressure_pct"`
}

// RpcConfig tunes the remote-service HTTP client and circuit breaker.
type RpcConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	OpenThreshold int32         `mapstructure:"open_threshold"`
	MinCooldown   time.Duration `mapstructure:"min_cooldown"`
	MaxCooldown   time.Duration `mapstructure:"max_cooldown"`
}

// NotifyConfig carries outbound webhook destinations.
type NotifyConfig struct {
	DiscordWebhookURL  string `mapstructure:"discord_webhook_url"`
	TelegramBotToken   string `mapstructure:"telegram_bot_token"`
	TelegramChatID     string `mapstructure:"telegram_chat_id"`
}

// APIConfig controls the diagnostics HTTP server.
type APIConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Bind          string        `mapstructure:"bind"`
	StatsCacheTTL time.Duration `mapstructure:"stats_cache_ttl"`
}

// MonitorConfig controls the websocket push feed.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// ProfilingConfig controls the pprof debug server.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// NewRelicConfig controls optional APM instrumentation.
type NewRelicConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// LogConfig controls the structured logger and its per-type file sinks.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Dir    string `mapstructure:"dir"`
}

// MaintenanceConfig carries the cadence table from spec §4.7.
type MaintenanceConfig struct {
	RetrieveChallengeInterval time.Duration `mapstructure:"retrieve_challenge_interval"`
	ShowWorklistInterval      time.Duration `mapstructure:"show_worklist_interval"`
	ShowHashrateInterval      time.Duration `mapstructure:"show_hashrate_interval"`
	MemoryCheckInterval       time.Duration `mapstructure:"memory_check_interval"`
}

// Config is the root configuration tree.
type Config struct {
	Project     ProjectConfig     `mapstructure:"project"`
	Wallets     []string          `mapstructure:"wallets"`
	Mining      MiningConfig      `mapstructure:"mining"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Tracker     TrackerConfig     `mapstructure:"tracker"`
	Rom         RomConfig         `mapstructure:"rom"`
	Rpc         RpcConfig         `mapstructure:"rpc"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	API         APIConfig         `mapstructure:"api"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Profiling   ProfilingConfig   `mapstructure:"profiling"`
	NewRelic    NewRelicConfig    `mapstructure:"newrelic"`
	Log         LogConfig         `mapstructure:"log"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// Load reads configuration from configPath (if non-empty), applying
// defaults first and environment overrides (prefix SCAVENGER_MINER)
// last.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCAVENGER_MINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project.name", "midnight")
	v.SetDefault("mining.search_batch_sizes", []int{100, 500, 1000, 5000, 10000})
	v.SetDefault("mining.search_passes", 3)
	v.SetDefault("scheduler.num_threads", 4)
	v.SetDefault("tracker.path", "db/scavenger-miner.bolt")
	v.SetDefault("rom.size_bytes", int64(1)<<30)
	v.SetDefault("rom.pre_size_bytes", int64(16)<<20)
	v.SetDefault("rom.mixing_numbers", 4)
	v.SetDefault("rom.maintain_interval", 30*time.Minute)
	v.SetDefault("rom.mem_pressure_pct", 80.0)
	v.SetDefault("rpc.timeout", 10*time.Second)
	v.SetDefault("rpc.open_threshold", int32(30))
	v.SetDefault("rpc.min_cooldown", time.Second)
	v.SetDefault("rpc.max_cooldown", 5*time.Second)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", ":8090")
	v.SetDefault("api.stats_cache_ttl", 5*time.Second)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.bind", ":8091")
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")
	v.SetDefault("newrelic.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.dir", "logs")
	v.SetDefault("maintenance.retrieve_challenge_interval", 60*time.Second)
	v.SetDefault("maintenance.show_worklist_interval", 20*time.Minute)
	v.SetDefault("maintenance.show_hashrate_interval", 10*time.Minute)
	v.SetDefault("maintenance.memory_check_interval", 10*time.Minute)
}

// Validate rejects configurations that cannot safely start mining.
func (c *Config) Validate() error {
	if c.Project.Name != "midnight" && c.Project.Name != "defensio" {
		return fmt.Errorf("config: project.name must be 'midnight' or 'defensio', got %q", c.Project.Name)
	}
	if len(c.Wallets) == 0 {
		return fmt.Errorf("config: at least one wallet address is required")
	}
	if c.Scheduler.NumThreads < 0 {
		return fmt.Errorf("config: scheduler.num_threads must be >= 0")
	}
	if c.Rom.PreSizeBytes > c.Rom.SizeBytes {
		return fmt.Errorf("config: rom.pre_size_bytes must not exceed rom.size_bytes")
	}
	if c.Tracker.Path == "" {
		return fmt.Errorf("config: tracker.path is required")
	}
	return nil
}
