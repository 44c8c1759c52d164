package monitor

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chainmonitor/internal/chain"
	"chainmonitor/internal/metrics"
	"chainmonitor/internal/model"
)

// poll runs one tick: one head fetch, then at most one block of work.
func (m *Monitor) poll(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	fetchCtx, cancel := m.callContext(ctx)
	block, err := m.chain.LatestBlock(fetchCtx)
	cancel()
	if err != nil {
		metrics.PollFailures.Inc()
		m.logger.Warn("fetch latest block failed", zap.Error(err))
		return
	}
	if block == nil {
		metrics.PollFailures.Inc()
		m.logger.Warn("fetch latest block returned nothing")
		return
	}

	switch {
	case block.Number == m.lastSeen:
		return
	case block.Number > m.lastSeen:
		m.handleBlock(ctx, block, false)
	default:
		m.handleBlock(ctx, block, true)
	}
}

func (m *Monitor) handleBlock(ctx context.Context, block *chain.Block, rollback bool) {
	snapshot := model.BlockSnapshot{
		Number:           block.Number,
		Hash:             block.Hash.Hex(),
		Timestamp:        block.Time,
		TransactionCount: len(block.Transactions),
		GasUsed:          block.GasUsed,
		GasLimit:         block.GasLimit,
	}

	records := m.filterTransactions(ctx, block)

	// A tick still in flight when Stop runs must not touch shared state.
	if !m.running.Load() {
		return
	}

	previous := m.lastSeen
	m.lastSeen = block.Number
	if rollback {
		metrics.Rollbacks.Inc()
		m.logger.Warn("block number rolled back, resetting stats",
			zap.Uint64("previous", previous),
			zap.Uint64("current", block.Number))
		m.agg.Rollback(snapshot, snapshot.TransactionCount)
	} else {
		m.agg.ObserveBlock(snapshot, snapshot.TransactionCount)
	}
	for _, rec := range records {
		m.agg.ObserveTransaction(rec)
	}
	metrics.BlocksObserved.Inc()
	metrics.LatestBlock.Set(float64(block.Number))

	m.logger.Debug("new block",
		zap.Uint64("block", block.Number),
		zap.Int("transactions", snapshot.TransactionCount),
		zap.Int("contract_transactions", len(records)))

	m.hub.PublishNewBlock(snapshot)
	for _, rec := range records {
		m.hub.PublishTransaction(rec)
		for _, event := range rec.Events {
			m.hub.PublishEvent(event)
		}
	}

	m.archive(ctx, records)
}

// filterTransactions fetches receipts for transactions sent to tracked
// contracts and decodes their logs. Receipts are fetched one at a time; a
// failed fetch skips only that transaction.
func (m *Monitor) filterTransactions(ctx context.Context, block *chain.Block) []model.ContractTransactionRecord {
	var records []model.ContractTransactionRecord
	for _, tx := range block.Transactions {
		if tx.To == nil {
			continue
		}
		contract, ok := m.reg.Lookup(*tx.To)
		if !ok {
			continue
		}

		receiptCtx, cancel := m.callContext(ctx)
		receipt, err := m.chain.TransactionReceipt(receiptCtx, tx.Hash)
		cancel()
		if err != nil || receipt == nil {
			metrics.ReceiptFailures.Inc()
			m.logger.Warn("fetch receipt failed",
				zap.String("tx_hash", tx.Hash.Hex()),
				zap.String("contract", contract.Name),
				zap.Error(err))
			continue
		}

		events, failures := m.decoder.DecodeReceipt(contract, tx.Hash, block.Number, receipt.Logs)
		for _, failure := range failures {
			metrics.DecodeFailures.WithLabelValues(failure.ContractName).Inc()
		}
		for _, event := range events {
			metrics.DecodedEvents.WithLabelValues(event.ContractName, event.EventName).Inc()
		}
		if events == nil {
			events = []model.DecodedEvent{}
		}

		status := model.TxStatusFailed
		if receipt.Status == types.ReceiptStatusSuccessful {
			status = model.TxStatusSuccess
		}

		records = append(records, model.ContractTransactionRecord{
			Hash:         tx.Hash.Hex(),
			From:         tx.From.Hex(),
			To:           tx.To.Hex(),
			ContractName: contract.Name,
			BlockNumber:  block.Number,
			GasUsed:      receipt.GasUsed,
			Status:       status,
			Timestamp:    block.Time,
			Events:       events,
		})
	}
	return records
}

func (m *Monitor) archive(ctx context.Context, records []model.ContractTransactionRecord) {
	if m.sink == nil || len(records) == 0 {
		return
	}
	if err := m.sink.PutTransactions(ctx, records); err != nil {
		metrics.ArchiveFailures.Inc()
		m.logger.Warn("archive transactions failed", zap.Int("records", len(records)), zap.Error(err))
	}
}
