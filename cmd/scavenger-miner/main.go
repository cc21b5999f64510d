// Command scavenger-miner runs the multi-wallet scavenger-mine
// orchestrator: it solves proof-of-work challenges for a set of
// wallets against the midnight or defensio remote service and submits
// solutions as they're found.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scavenger-mine/orchestrator/internal/api"
	"github.com/scavenger-mine/orchestrator/internal/backoff"
	"github.com/scavenger-mine/orchestrator/internal/config"
	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/maintenance"
	"github.com/scavenger-mine/orchestrator/internal/monitor"
	"github.com/scavenger-mine/orchestrator/internal/newrelic"
	"github.com/scavenger-mine/orchestrator/internal/notify"
	"github.com/scavenger-mine/orchestrator/internal/profiling"
	"github.com/scavenger-mine/orchestrator/internal/rom"
	"github.com/scavenger-mine/orchestrator/internal/rpc"
	"github.com/scavenger-mine/orchestrator/internal/scheduler"
	"github.com/scavenger-mine/orchestrator/internal/solver"
	"github.com/scavenger-mine/orchestrator/internal/tracker"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	threadsOverride := flag.Int("threads", 0, "override scheduler.num_threads (0 = use config)")
	showVersion := flag.Bool("version", false, "show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("scavenger-miner v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *threadsOverride > 0 {
		cfg.Scheduler.NumThreads = *threadsOverride
	}

	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("scavenger-miner v%s starting, project=%s wallets=%d", version, cfg.Project.Name, len(cfg.Wallets))

	tr, err := tracker.Open(cfg.Tracker.Path)
	if err != nil {
		util.Fatalf("failed to open tracker: %v", err)
	}
	defer tr.Close()

	for _, w := range cfg.Wallets {
		wallet := domain.Wallet{Address: w, Project: cfg.Project.Name, RegisteredAt: time.Now()}
		if err := tr.AddWallet(wallet); err != nil {
			util.Errorf("failed to register wallet %s: %v", w, err)
		}
	}

	romCache := rom.NewCache(rom.Config{
		Size:          cfg.Rom.SizeBytes,
		PreSize:       cfg.Rom.PreSizeBytes,
		MixingNumbers: cfg.Rom.MixingNumbers,
	})

	rpcClient := rpc.New(rpc.Project(cfg.Project.Name), cfg.Project.BaseURLOverride, cfg.Rpc.Timeout)

	breakerCfg := backoff.DefaultConfig()
	breakerCfg.OpenThreshold = cfg.Rpc.OpenThreshold
	breakerCfg.MinCooldown = cfg.Rpc.MinCooldown
	breakerCfg.MaxCooldown = cfg.Rpc.MaxCooldown
	breaker := backoff.New(breakerCfg)

	notifier := notify.New(notify.Config{
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		TelegramBotToken:  cfg.Notify.TelegramBotToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
	})

	var pprofServer *profiling.Server
	if cfg.Profiling.Enabled {
		pprofServer = profiling.NewServer(&cfg.Profiling)
		if err := pprofServer.Start(); err != nil {
			util.Errorf("failed to start profiling server: %v", err)
		}
	}

	var nrAgent *newrelic.Agent
	if cfg.NewRelic.Enabled {
		nrAgent = newrelic.NewAgent(&cfg.NewRelic)
		if err := nrAgent.Start(); err != nil {
			util.Errorf("failed to start new relic agent: %v", err)
		}
	}

	sched := scheduler.New(scheduler.Deps{
		Tracker:    tr,
		Solver:     solver.New(),
		Rom:        romCache,
		Rpc:        rpcClient,
		Project:    cfg.Project.Name,
		Breaker:    breaker,
		Notifier:   notifier,
		NumThreads: cfg.Scheduler.NumThreads,
	}, cfg.Wallets)
	sched.Start()

	maint := maintenance.New(maintenance.Deps{
		Tracker: tr,
		Rpc:     rpcClient,
		Rom:     romCache,
		Wallets: cfg.Wallets,
		Cadences: maintenance.Cadences{
			RetrieveChallenge: cfg.Maintenance.RetrieveChallengeInterval,
			ShowWorklist:      cfg.Maintenance.ShowWorklistInterval,
			ShowHashrate:      cfg.Maintenance.ShowHashrateInterval,
			MaintainRomCache:  cfg.Rom.MaintainInterval,
			MemoryCheck:       cfg.Maintenance.MemoryCheckInterval,
		},
		Hashrate:       sched.Hashrate,
		MemPressurePct: cfg.Rom.MemPressurePct,
	})
	maint.Start()

	apiServer := api.NewServer(&cfg.API, api.Deps{
		Tracker:  tr,
		Rom:      romCache,
		Rpc:      rpcClient,
		Hashrate: sched.Hashrate,
		Wallets:  cfg.Wallets,
	})
	if err := apiServer.Start(); err != nil {
		util.Errorf("failed to start diagnostics api: %v", err)
	}

	feed := monitor.NewFeed(&cfg.Monitor)
	if err := feed.Start(); err != nil {
		util.Errorf("failed to start monitor feed: %v", err)
	}
	stopFeed := make(chan struct{})
	if cfg.Monitor.Enabled {
		go broadcastLoop(feed, tr, romCache, sched, cfg.Wallets, stopFeed)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("scavenger-miner started. press ctrl+c to stop.")
	<-sigChan
	util.Info("shutting down...")

	close(stopFeed)
	feed.Stop()
	if err := apiServer.Stop(); err != nil {
		util.Errorf("error stopping diagnostics api: %v", err)
	}
	maint.Stop()
	sched.Stop()
	if pprofServer != nil {
		pprofServer.Stop()
	}
	if nrAgent != nil {
		nrAgent.Stop()
	}

	util.Info("scavenger-miner stopped")
}

func broadcastLoop(feed *monitor.Feed, tr tracker.Tracker, romCache *rom.Cache, sched *scheduler.Scheduler, wallets []string, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := monitor.Snapshot{Timestamp: time.Now().Unix(), RomCacheKeys: len(romCache.Keys())}
			for _, addr := range wallets {
				done, _ := tr.CountWork(addr, []domain.WorkStatus{domain.WorkDone})
				snap.Wallets = append(snap.Wallets, monitor.WalletSnapshot{
					Address:      addr,
					HashesPerSec: sched.Hashrate(addr),
					DoneCount:    done,
				})
			}
			feed.Broadcast(snap)
		}
	}
}
