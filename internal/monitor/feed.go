// Package monitor pushes periodic mining-state snapshots to connected
// dashboard clients over a websocket, repurposing the pool's inbound
// GetWork protocol into an outbound broadcast feed.
package monitor

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scavenger-mine/orchestrator/internal/config"
	"github.com/scavenger-mine/orchestrator/internal/util"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WalletSnapshot is one wallet's current state, broadcast every tick.
type WalletSnapshot struct {
	Address        string  `json:"address"`
	HashesPerSec   float64 `json:"hashes_per_sec"`
	ActiveChallenge string `json:"active_challenge,omitempty"`
	DoneCount      int     `json:"done_count"`
}

// Snapshot is one broadcast frame: every wallet's state plus ROM cache
// footprint at the time it was taken.
type Snapshot struct {
	Wallets      []WalletSnapshot `json:"wallets"`
	RomCacheKeys int              `json:"rom_cache_keys"`
	Timestamp    int64            `json:"timestamp"`
}

type client struct {
	id   uint64
	conn *websocket.Conn
	mu   sync.Mutex
	quit chan struct{}
}

// Feed serves the websocket dashboard endpoint and broadcasts Snapshots
// pushed to it via Broadcast.
type Feed struct {
	cfg *config.MonitorConfig

	server  *http.Server
	clients sync.Map // uint64 -> *client
	nextID  uint64

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewFeed returns a Feed for cfg, not yet started.
func NewFeed(cfg *config.MonitorConfig) *Feed {
	return &Feed{cfg: cfg, quit: make(chan struct{})}
}

// Start begins serving the websocket endpoint, or is a no-op if disabled.
func (f *Feed) Start() error {
	if !f.cfg.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", f.handleConnection)
	f.server = &http.Server{Addr: f.cfg.Bind, Handler: mux}

	util.Infof("monitor feed listening on %s", f.cfg.Bind)
	go func() {
		if err := f.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("monitor feed error: %v", err)
		}
	}()
	return nil
}

// Stop closes every connected client and shuts down the server.
func (f *Feed) Stop() {
	close(f.quit)
	if f.server != nil {
		f.server.Close()
	}
	f.clients.Range(func(_, v interface{}) bool {
		v.(*client).conn.Close()
		return true
	})
	f.wg.Wait()
}

func (f *Feed) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.Warnf("monitor feed upgrade error: %v", err)
		return
	}
	c := &client{id: atomic.AddUint64(&f.nextID, 1), conn: conn, quit: make(chan struct{})}
	f.clients.Store(c.id, c)
	util.Debugf("monitor feed client %d connected", c.id)

	f.wg.Add(1)
	go f.drainClient(c)
}

// drainClient discards inbound messages (the feed is push-only) until
// the connection closes, so the read side doesn't back up.
func (f *Feed) drainClient(c *client) {
	defer f.wg.Done()
	defer func() {
		c.conn.Close()
		f.clients.Delete(c.id)
		close(c.quit)
		util.Debugf("monitor feed client %d disconnected", c.id)
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends snapshot to every connected client, dropping clients
// whose write fails.
func (f *Feed) Broadcast(snapshot Snapshot) {
	f.clients.Range(func(_, v interface{}) bool {
		c := v.(*client)
		c.mu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := c.conn.WriteJSON(snapshot)
		c.mu.Unlock()
		if err != nil {
			util.Debugf("monitor feed write error for client %d: %v", c.id, err)
			c.conn.Close()
		}
		return true
	})
}

// ClientCount reports the number of currently connected dashboard clients.
func (f *Feed) ClientCount() int {
	count := 0
	f.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}
