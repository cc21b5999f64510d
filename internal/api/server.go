// Package api serves the read-only diagnostics HTTP API: per-wallet
// worklist and hashrate, remote statistics passthrough, system memory
// status and ROM cache status.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/scavenger-mine/orchestrator/internal/config"
	"github.com/scavenger-mine/orchestrator/internal/domain"
	"github.com/scavenger-mine/orchestrator/internal/rpc"
	"github.com/scavenger-mine/orchestrator/internal/tracker"
	"github.com/scavenger-mine/orchestrator/internal/util"
	"github.com/shirou/gopsutil/mem"
)

// RomCache is the narrow ROM cache capability the API needs.
type RomCache interface {
	Status() map[string]int64
}

// RpcClient is the narrow remote-service capability the API needs.
type RpcClient interface {
	GetStatistics(ctx context.Context, address string) (rpc.Statistics, error)
}

// HashrateProvider reports a wallet's current observed hashrate.
type HashrateProvider func(address string) float64

// Deps bundles the diagnostics server's collaborators.
type Deps struct {
	Tracker  tracker.Tracker
	Rom      RomCache
	Rpc      RpcClient
	Hashrate HashrateProvider
	Wallets  []string
}

// Server serves the diagnostics API over gin.
type Server struct {
	cfg    *config.APIConfig
	deps   Deps
	router *gin.Engine
	server *http.Server

	statsCacheMu   sync.RWMutex
	statsCache     gin.H
	statsCacheTime time.Time
}

// NewServer returns a Server for cfg and deps, routes already wired.
func NewServer(cfg *config.APIConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, deps: deps, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s.router.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	s.router.GET("/worklist/:address", s.handleWorklist)
	s.router.GET("/hashrate", s.handleHashrate)
	s.router.GET("/statistics/:address", s.handleStatistics)
	s.router.GET("/system", s.handleSystem)
	s.router.GET("/rom-cache", s.handleRomCache)
}

// Engine exposes the underlying gin.Engine, mainly so Start can wrap it
// in an *http.Server while tests can exercise routes directly.
func (s *Server) Engine() *gin.Engine { return s.router }

// Start begins serving the diagnostics API in the background.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.server = &http.Server{Addr: s.cfg.Bind, Handler: s.router}
	util.Infof("diagnostics api listening on %s", s.cfg.Bind)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("diagnostics api error: %v", err)
		}
	}()
	return nil
}

// Stop shuts down the diagnostics API server, if running.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleWorklist(c *gin.Context) {
	address := c.Param("address")
	challenges, err := s.deps.Tracker.GetChallenges(address, []domain.WorkStatus{domain.WorkPending, domain.WorkSolving, domain.WorkDone})
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to load worklist"})
		return
	}
	c.JSON(200, gin.H{"address": address, "challenges": challenges})
}

func (s *Server) handleHashrate(c *gin.Context) {
	if s.deps.Hashrate == nil {
		c.JSON(200, gin.H{"wallets": gin.H{}})
		return
	}
	out := make(gin.H, len(s.deps.Wallets))
	for _, addr := range s.deps.Wallets {
		out[addr] = s.deps.Hashrate(addr)
	}
	c.JSON(200, gin.H{"wallets": out})
}

func (s *Server) handleStatistics(c *gin.Context) {
	address := c.Param("address")

	s.statsCacheMu.RLock()
	if s.statsCache != nil && s.statsCache["address"] == address && time.Since(s.statsCacheTime) < s.cfg.StatsCacheTTL {
		cached := s.statsCache
		s.statsCacheMu.RUnlock()
		c.JSON(200, cached)
		return
	}
	s.statsCacheMu.RUnlock()

	stats, err := s.deps.Rpc.GetStatistics(c.Request.Context(), address)
	if err != nil {
		c.JSON(502, gin.H{"error": "failed to fetch remote statistics"})
		return
	}
	resp := gin.H{"address": address, "statistics": stats, "fetched_at": time.Now().Unix()}

	s.statsCacheMu.Lock()
	s.statsCache = resp
	s.statsCacheTime = time.Now()
	s.statsCacheMu.Unlock()

	c.JSON(200, resp)
}

func (s *Server) handleSystem(c *gin.Context) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		c.JSON(500, gin.H{"error": "failed to read memory stats"})
		return
	}
	c.JSON(200, gin.H{
		"memory_used_percent": vm.UsedPercent,
		"memory_available":    vm.Available,
		"memory_total":        vm.Total,
	})
}

func (s *Server) handleRomCache(c *gin.Context) {
	c.JSON(200, gin.H{"entries": s.deps.Rom.Status()})
}
