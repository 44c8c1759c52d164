// Package monitor polls the chain head, filters and decodes transactions
// sent to tracked contracts, feeds the stats aggregator and publishes the
// results through the hub.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chainmonitor/internal/chain"
	"chainmonitor/internal/decoder"
	"chainmonitor/internal/hub"
	"chainmonitor/internal/metrics"
	"chainmonitor/internal/model"
	"chainmonitor/internal/registry"
	"chainmonitor/internal/stats"
	"chainmonitor/internal/storage"
)

var (
	// ErrNotInitialized is returned by Start before a registry was loaded.
	ErrNotInitialized = errors.New("monitor not initialized")
	// ErrRunning is returned by Initialize while the monitor runs.
	ErrRunning = errors.New("monitor is running")
)

const (
	defaultPollInterval  = 2 * time.Second
	defaultStatsInterval = 10 * time.Second
)

// Chain is the endpoint the monitor reads from.
type Chain interface {
	LatestBlock(ctx context.Context) (*chain.Block, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	stats.ContractCaller
}

// Config controls the monitor timers.
type Config struct {
	PollInterval  time.Duration
	StatsInterval time.Duration
	// RPCTimeout bounds every chain call made inside a tick; 0 disables it.
	RPCTimeout time.Duration
}

// Deps are the collaborators of a Monitor. Sink, Logger and NewTicker are
// optional.
type Deps struct {
	Chain     Chain
	Hub       *hub.Hub
	Sink      storage.Sink
	Logger    *zap.Logger
	NewTicker TickerFactory
}

// Monitor is the chain activity monitor. The zero value is not usable; build
// one with New.
type Monitor struct {
	cfg       Config
	chain     Chain
	hub       *hub.Hub
	sink      storage.Sink
	logger    *zap.Logger
	newTicker TickerFactory
	decoder   *decoder.Decoder
	agg       *stats.Aggregator

	mu        sync.Mutex
	reg       *registry.Registry
	refresher *stats.Refresher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool

	// tickMu serializes poll ticks and guards lastSeen.
	tickMu   sync.Mutex
	lastSeen uint64
}

// New builds a stopped, uninitialized Monitor.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	newTicker := deps.NewTicker
	if newTicker == nil {
		newTicker = NewTimeTicker
	}

	return &Monitor{
		cfg:       cfg,
		chain:     deps.Chain,
		hub:       deps.Hub,
		sink:      deps.Sink,
		logger:    logger.With(zap.String("component", "monitor")),
		newTicker: newTicker,
		decoder:   decoder.New(logger),
		agg:       stats.NewAggregator(deps.Hub.Count),
	}, nil
}

// Initialize loads the registry and takes the initial stats refresh. A failed
// refresh is logged and leaves the counters at zero.
func (m *Monitor) Initialize(ctx context.Context, reg *registry.Registry) error {
	if reg == nil {
		return fmt.Errorf("registry is required")
	}

	m.mu.Lock()
	if m.running.Load() {
		m.mu.Unlock()
		return ErrRunning
	}
	m.reg = reg
	m.refresher = stats.NewRefresher(m.chain, reg, m.cfg.RPCTimeout, m.logger)
	m.agg.BindRegistry(reg)
	refresher := m.refresher
	m.mu.Unlock()

	values, err := refresher.Fetch(ctx)
	if err != nil {
		m.logger.Warn("initial stats refresh failed", zap.Error(err))
	}
	m.agg.Apply(values)

	m.logger.Info("monitor initialized",
		zap.Int("contracts", reg.Len()),
		zap.Int("refresh_sources", refresher.Sources()))
	return nil
}

// Start begins polling and periodic stats refresh. Starting a running
// monitor logs a warning and does nothing.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reg == nil {
		return ErrNotInitialized
	}
	if m.running.Load() {
		m.logger.Warn("start called while running")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running.Store(true)

	pollTicker := m.newTicker(m.cfg.PollInterval)
	statsTicker := m.newTicker(m.cfg.StatsInterval)

	m.wg.Add(2)
	go m.loop(runCtx, pollTicker, m.poll)
	go m.loop(runCtx, statsTicker, m.refresh)

	m.logger.Info("monitor started",
		zap.Duration("poll_interval", m.cfg.PollInterval),
		zap.Duration("stats_interval", m.cfg.StatsInterval))
	return nil
}

// Stop cancels both timers and waits for an in-flight tick to finish. No
// tick runs after Stop returns. Stopping a stopped monitor logs a warning.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running.Load() {
		m.logger.Warn("stop called while stopped")
		return
	}

	m.running.Store(false)
	m.cancel()
	m.wg.Wait()
	m.cancel = nil

	m.logger.Info("monitor stopped")
}

// Running reports whether the monitor is started.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

// GetStats returns the current stats snapshot.
func (m *Monitor) GetStats() model.Stats {
	return m.agg.Snapshot()
}

// Subscribe registers a live subscriber on the hub.
func (m *Monitor) Subscribe() (*hub.Subscriber, error) {
	return m.hub.Subscribe()
}

// Unsubscribe removes a subscriber. Repeated calls are a no-op.
func (m *Monitor) Unsubscribe(id string) {
	m.hub.Unsubscribe(id)
}

func (m *Monitor) loop(ctx context.Context, ticker Ticker, fn func(context.Context)) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !m.running.Load() || ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}

// refresh re-reads the refresh-derived counters and pushes a stats snapshot.
func (m *Monitor) refresh(ctx context.Context) {
	values, err := m.refresher.Fetch(ctx)
	if err != nil {
		m.logger.Warn("stats refresh failed", zap.Error(err))
		metrics.RefreshFailures.Inc()
	}
	if !m.running.Load() {
		return
	}
	m.agg.Apply(values)
	m.hub.PublishStats(m.agg.Snapshot())
}

func (m *Monitor) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.RPCTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.RPCTimeout)
	}
	return context.WithCancel(ctx)
}
