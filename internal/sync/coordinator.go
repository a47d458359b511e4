// Package sync drives replication sessions over the available
// transports: ordering the backlog by medical urgency, running one
// session per transport class at a time, and escalating urgent
// documents across racing channels.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/openchw/meshdoc/internal/core/store"
	"github.com/openchw/meshdoc/internal/metrics"
	"github.com/openchw/meshdoc/internal/transport"
	"github.com/openchw/meshdoc/pkg/model"
)

// Config tunes session behavior.
type Config struct {
	// SessionTimeout bounds one transport send; a hung transport must
	// not occupy its session slot forever.
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// AutoSyncInterval is the background cellular sync cadence.
	AutoSyncInterval time.Duration `yaml:"auto_sync_interval"`
	// RecencyWindow feeds the priority ordering.
	RecencyWindow time.Duration `yaml:"recency_window"`
	// RetryInterval is the offline emergency retry cadence.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:   30 * time.Second,
		AutoSyncInterval: 5 * time.Minute,
		RecencyWindow:    DefaultRecencyWindow,
		RetryInterval:    5 * time.Minute,
	}
}

// SessionResult reports a completed session.
type SessionResult struct {
	Transferred int
}

// Coordinator owns the Sync Status value and runs sessions. A session
// snapshots the backlog, orders it, caps it to the transport, and on
// success instructs the store to clear what was sent.
type Coordinator struct {
	store      *store.Store
	transports map[transport.Kind]transport.Transport
	cfg        Config
	logger     *slog.Logger

	mu      gosync.Mutex
	running map[transport.Kind]bool
	status  Status

	stop     chan struct{}
	stopOnce gosync.Once
	wg       gosync.WaitGroup
}

// NewCoordinator wires the store to the given transports.
func NewCoordinator(cfg Config, s *store.Store, logger *slog.Logger, transports ...transport.Transport) *Coordinator {
	def := DefaultConfig()
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.AutoSyncInterval <= 0 {
		cfg.AutoSyncInterval = def.AutoSyncInterval
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = def.RecencyWindow
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:      s,
		transports: make(map[transport.Kind]transport.Transport, len(transports)),
		cfg:        cfg,
		logger:     logger.With("component", "sync"),
		running:    make(map[transport.Kind]bool),
		stop:       make(chan struct{}),
	}
	for _, t := range transports {
		c.transports[t.Kind()] = t
	}
	return c
}

// Status returns a copy of the current sync status.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.clone()
}

// SetReachable records the connectivity state observed by an external
// monitor or the cellular transport itself.
func (c *Coordinator) SetReachable(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Reachable = ok
}

func (c *Coordinator) reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Reachable
}

// RunSession drives one sync session over the given transport kind.
// Returns model.ErrSessionBusy, leaving the status untouched, when a
// session is already running for that class.
func (c *Coordinator) RunSession(ctx context.Context, kind transport.Kind) (SessionResult, error) {
	slot := kind
	if kind == transport.KindManual {
		// Manual sync rides the cellular channel but is reported as
		// manual; it shares the cellular session slot.
		slot = transport.KindCellular
	}
	t, ok := c.transports[slot]
	if !ok {
		return SessionResult{}, fmt.Errorf("%w: %s", model.ErrNoTransport, slot)
	}

	c.mu.Lock()
	if c.running[slot] {
		c.mu.Unlock()
		return SessionResult{}, model.ErrSessionBusy
	}
	c.running[slot] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running[slot] = false
		c.mu.Unlock()
	}()

	// The snapshot is a copy; concurrent ingestion cannot race with the
	// batch being transmitted.
	ordered := Prioritize(c.store.Backlog(), c.cfg.RecencyWindow, time.Now())
	batch := transport.Limit(t, ordered)

	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SessionTimeout)
	defer cancel()

	res, err := t.Send(sendCtx, batch)
	if err != nil {
		c.mu.Lock()
		c.status.appendError(fmt.Sprintf("%s: %v", kind, err))
		c.mu.Unlock()
		metrics.SyncSessions.WithLabelValues(string(kind), "failed").Inc()
		c.logger.Warn("sync session failed", "transport", kind, "error", err)
		// Backlog untouched; a later session retries the same documents.
		return SessionResult{}, err
	}

	c.store.MarkSynced(batch)

	c.mu.Lock()
	c.status.LastSync = time.Now()
	c.status.Transport = kind
	c.status.Transferred = res.Delivered
	c.status.RecentErrors = nil
	c.mu.Unlock()

	metrics.SyncSessions.WithLabelValues(string(kind), "completed").Inc()
	metrics.DocumentsTransferred.WithLabelValues(string(kind)).Add(float64(res.Delivered))
	c.logger.Info("sync session completed", "transport", kind, "transferred", res.Delivered)
	return SessionResult{Transferred: res.Delivered}, nil
}

// ManualSync runs a user-triggered session over the cellular channel.
func (c *Coordinator) ManualSync(ctx context.Context) (SessionResult, error) {
	return c.RunSession(ctx, transport.KindManual)
}

// Start launches the background auto-sync timer: a cellular session at
// every interval while connectivity is reachable. Advisory scheduling,
// not real-time.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.AutoSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if t, ok := c.transports[transport.KindCellular]; ok {
					c.SetReachable(t.Reachable())
				}
				if !c.reachable() {
					continue
				}
				if _, err := c.RunSession(ctx, transport.KindCellular); err != nil && err != model.ErrSessionBusy {
					c.logger.Debug("auto-sync attempt failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the auto-sync timer and waits for it to exit.
func (c *Coordinator) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}
