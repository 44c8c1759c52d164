// Package stats maintains the running chain activity counters.
//
// Block and transaction totals are tick-derived: they only move when the
// poller observes blocks. Domain counters are fed both by decoded events and
// by periodic contract reads, and a contract read overwrites whatever the
// events accumulated for that counter.
package stats

import (
	"sync"

	"chainmonitor/internal/model"
	"chainmonitor/internal/registry"
)

type eventKey struct {
	contract string
	event    string
}

// Aggregator owns the Stats value. All mutation is serialized on one mutex.
type Aggregator struct {
	mu       sync.Mutex
	stats    model.Stats
	counters map[eventKey]model.Counter

	subscribers func() int
}

// NewAggregator builds an Aggregator. subscribers reports the live
// subscriber count at snapshot time and may be nil.
func NewAggregator(subscribers func() int) *Aggregator {
	return &Aggregator{
		counters:    make(map[eventKey]model.Counter),
		subscribers: subscribers,
	}
}

// BindRegistry records which decoded events feed which domain counter.
func (a *Aggregator) BindRegistry(reg *registry.Registry) {
	counters := make(map[eventKey]model.Counter)
	if reg != nil {
		for _, contract := range reg.Contracts() {
			for _, schema := range contract.Events {
				if schema.Counter == model.CounterNone {
					continue
				}
				counters[eventKey{contract: contract.Name, event: schema.EventName}] = schema.Counter
			}
		}
	}

	a.mu.Lock()
	a.counters = counters
	a.mu.Unlock()
}

// ObserveBlock records a newly seen block. TotalBlocks tracks the highest
// block number rather than a tally.
func (a *Aggregator) ObserveBlock(block model.BlockSnapshot, txCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observeBlockLocked(block, txCount)
}

func (a *Aggregator) observeBlockLocked(block model.BlockSnapshot, txCount int) {
	a.stats.TotalBlocks = block.Number
	a.stats.LastBlockNumber = block.Number
	a.stats.LastBlockTime = block.Timestamp
	if txCount > 0 {
		a.stats.TotalTransactions += uint64(txCount)
	}
}

// ObserveTransaction bumps the domain counter of every decoded event in rec
// that maps to one. Returns the number of counter increments applied.
func (a *Aggregator) ObserveTransaction(rec model.ContractTransactionRecord) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	applied := 0
	for _, event := range rec.Events {
		counter, ok := a.counters[eventKey{contract: event.ContractName, event: event.EventName}]
		if !ok {
			continue
		}
		if p := a.counterLocked(counter); p != nil {
			*p++
			applied++
		}
	}
	return applied
}

// ResetOnRollback zeroes the derived counters. The block pointer is left for
// the following ObserveBlock to overwrite.
func (a *Aggregator) ResetOnRollback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Aggregator) resetLocked() {
	a.stats.TotalTransactions = 0
	a.stats.TotalIdentities = 0
	a.stats.TotalVaccineRecords = 0
}

// Rollback resets the derived counters and observes the new baseline block
// in a single update, so no reader sees the reset without the new pointer.
func (a *Aggregator) Rollback(block model.BlockSnapshot, txCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	a.observeBlockLocked(block, txCount)
}

// Apply overwrites the given refresh-derived counters.
func (a *Aggregator) Apply(values map[model.Counter]uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for counter, value := range values {
		if p := a.counterLocked(counter); p != nil {
			*p = value
		}
	}
}

// Snapshot returns a copy of the current stats.
func (a *Aggregator) Snapshot() model.Stats {
	a.mu.Lock()
	out := a.stats
	a.mu.Unlock()

	if a.subscribers != nil {
		out.ConnectedSubscribers = a.subscribers()
	}
	return out
}

func (a *Aggregator) counterLocked(counter model.Counter) *uint64 {
	switch counter {
	case model.CounterIdentities:
		return &a.stats.TotalIdentities
	case model.CounterVaccineRecords:
		return &a.stats.TotalVaccineRecords
	default:
		return nil
	}
}
