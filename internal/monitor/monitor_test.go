package monitor_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"chainmonitor/internal/chain"
	"chainmonitor/internal/hub"
	"chainmonitor/internal/model"
	"chainmonitor/internal/monitor"
	"chainmonitor/internal/testutil"
)

const (
	pollInterval  = 2 * time.Second
	statsInterval = 10 * time.Second
	waitTimeout   = 2 * time.Second
)

type harness struct {
	mon   *monitor.Monitor
	chain *testutil.FakeChain
	clock *fakeClock
	hub   *hub.Hub
	sub   *hub.Subscriber
	sink  *recordingSink
}

type recordingSink struct {
	mu      sync.Mutex
	records []model.ContractTransactionRecord
	err     error
}

func (s *recordingSink) PutTransactions(_ context.Context, records []model.ContractTransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return s.err
}

func (s *recordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test put a wrapper in front of the fake chain.
func newHarnessWith(t *testing.T, wrap func(*testutil.FakeChain) monitor.Chain) *harness {
	t.Helper()
	fake := testutil.NewFakeChain()
	var endpoint monitor.Chain = fake
	if wrap != nil {
		endpoint = wrap(fake)
	}
	clock := newFakeClock()
	h := hub.New(hub.Config{Buffer: 256}, nil)
	sink := &recordingSink{}

	mon, err := monitor.New(monitor.Config{
		PollInterval:  pollInterval,
		StatsInterval: statsInterval,
		RPCTimeout:    time.Second,
	}, monitor.Deps{
		Chain:     endpoint,
		Hub:       h,
		Sink:      sink,
		NewTicker: clock.NewTicker,
	})
	require.NoError(t, err)

	sub, err := mon.Subscribe()
	require.NoError(t, err)

	t.Cleanup(func() {
		if mon.Running() {
			mon.Stop()
		}
	})
	return &harness{mon: mon, chain: fake, clock: clock, hub: h, sub: sub, sink: sink}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.mon.Initialize(context.Background(), testutil.NewRegistry(t)))
	require.NoError(t, h.mon.Start(context.Background()))
}

// tick advances one poll interval and waits for the newBlock message of
// block number, returning every message received up to and including it.
func (h *harness) tick(t *testing.T, number uint64) []model.Message {
	t.Helper()
	h.clock.Advance(t, pollInterval)
	return h.waitBlock(t, number)
}

func (h *harness) waitBlock(t *testing.T, number uint64) []model.Message {
	t.Helper()
	var msgs []model.Message
	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-h.sub.C:
			msgs = append(msgs, msg)
			if msg.Type == model.MessageNewBlock && msg.Data.(model.BlockSnapshot).Number == number {
				return append(msgs, h.drain()...)
			}
		case <-deadline:
			t.Fatalf("no newBlock message for block %d, got %d messages", number, len(msgs))
			return nil
		}
	}
}

// drain collects messages already buffered or arriving shortly.
func (h *harness) drain() []model.Message {
	var msgs []model.Message
	for {
		select {
		case msg := <-h.sub.C:
			msgs = append(msgs, msg)
		case <-time.After(50 * time.Millisecond):
			return msgs
		}
	}
}

func ofType(msgs []model.Message, kind model.MessageType) []model.Message {
	var out []model.Message
	for _, msg := range msgs {
		if msg.Type == kind {
			out = append(out, msg)
		}
	}
	return out
}

func identityTx(t *testing.T, fake *testutil.FakeChain, seed uint64, blockNumber uint64, name string) chain.Transaction {
	t.Helper()
	to := testutil.IdentityAddress
	tx := testutil.Tx(seed, &to)
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	fake.AddReceipt(testutil.Receipt(tx, blockNumber, types.ReceiptStatusSuccessful,
		testutil.IdentityCreatedLog(t, owner, int64(seed), name)))
	return tx
}

func foreignTx(seed uint64) chain.Transaction {
	to := common.HexToAddress("0x9999999999999999999999999999999999999999")
	return testutil.Tx(seed, &to)
}

func TestBlockSequenceStats(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	txCounts := []int{2, 0, 3, 1, 4}
	seed := uint64(100)
	total := 0
	for i, n := range txCounts {
		number := uint64(i + 1)
		txs := make([]chain.Transaction, 0, n)
		for j := 0; j < n; j++ {
			seed++
			txs = append(txs, foreignTx(seed))
		}
		h.chain.SetHead(testutil.Block(number, txs...))
		msgs := h.tick(t, number)
		require.Empty(t, ofType(msgs, model.MessageContractTransaction))
		total += n
	}

	stats := h.mon.GetStats()
	require.Equal(t, uint64(len(txCounts)), stats.TotalBlocks)
	require.Equal(t, uint64(total), stats.TotalTransactions)
	require.Equal(t, uint64(5), stats.LastBlockNumber)
	require.Equal(t, 1, stats.ConnectedSubscribers)
	require.Zero(t, h.chain.ReceiptCalls())
}

func TestStaleBlockIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.chain.SetHead(testutil.Block(3, foreignTx(1)))
	h.tick(t, 3)

	h.clock.Advance(t, pollInterval)
	h.clock.Advance(t, pollInterval)
	require.Eventually(t, func() bool { return h.chain.LatestCalls() == 3 }, waitTimeout, 10*time.Millisecond)
	require.Empty(t, ofType(h.drain(), model.MessageNewBlock))
	require.Equal(t, uint64(1), h.mon.GetStats().TotalTransactions)
}

func TestGenesisHeadIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.chain.SetHead(testutil.Block(0))
	h.clock.Advance(t, pollInterval)
	require.Eventually(t, func() bool { return h.chain.LatestCalls() == 1 }, waitTimeout, 10*time.Millisecond)
	require.Empty(t, ofType(h.drain(), model.MessageNewBlock))
	require.Zero(t, h.mon.GetStats().TotalBlocks)
}

func TestRollbackResetsCounters(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.chain.SetHead(testutil.Block(10, identityTx(t, h.chain, 1, 10, "alice"), foreignTx(2)))
	h.tick(t, 10)
	h.chain.SetHead(testutil.Block(11, identityTx(t, h.chain, 3, 11, "bob")))
	h.tick(t, 11)

	before := h.mon.GetStats()
	require.Equal(t, uint64(2), before.TotalIdentities)
	require.Equal(t, uint64(3), before.TotalTransactions)

	h.chain.SetHead(testutil.Block(5))
	h.tick(t, 5)

	after := h.mon.GetStats()
	require.Zero(t, after.TotalTransactions)
	require.Zero(t, after.TotalIdentities)
	require.Zero(t, after.TotalVaccineRecords)
	require.Equal(t, uint64(5), after.LastBlockNumber)

	h.chain.SetHead(testutil.Block(6, foreignTx(9)))
	h.tick(t, 6)
	require.Equal(t, uint64(1), h.mon.GetStats().TotalTransactions)
}

func TestFilterSelectsTrackedContracts(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	tracked := identityTx(t, h.chain, 1, 7, "alice")
	creation := testutil.Tx(2, nil)
	h.chain.SetHead(testutil.Block(7, foreignTx(3), creation, tracked))

	msgs := h.tick(t, 7)
	txMsgs := ofType(msgs, model.MessageContractTransaction)
	require.Len(t, txMsgs, 1)

	rec := txMsgs[0].Data.(model.ContractTransactionRecord)
	require.Equal(t, tracked.Hash.Hex(), rec.Hash)
	require.Equal(t, testutil.IdentityAddress.Hex(), rec.To)
	require.Equal(t, "IdentityRegistry", rec.ContractName)
	require.Equal(t, model.TxStatusSuccess, rec.Status)
	require.Equal(t, uint64(7), rec.BlockNumber)
	require.Len(t, rec.Events, 1)
	require.Equal(t, "alice", rec.Events[0].Fields["name"])

	eventMsgs := ofType(msgs, model.MessageContractEvent)
	require.Len(t, eventMsgs, 1)
	require.Equal(t, "IdentityCreated", eventMsgs[0].Data.(model.DecodedEvent).EventName)

	require.Equal(t, 1, h.chain.ReceiptCalls())
	require.Equal(t, uint64(1), h.mon.GetStats().TotalIdentities)
	require.Eventually(t, func() bool { return h.sink.Len() == 1 }, waitTimeout, 10*time.Millisecond)
}

func TestUnknownTopicYieldsNoEvents(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	to := testutil.VaccineAddress
	tx := testutil.Tx(1, &to)
	log := testutil.StatusChangedLog(t, 1, 1)
	log.Topics[0] = common.HexToHash("0x0badc0de")
	h.chain.AddReceipt(testutil.Receipt(tx, 4, types.ReceiptStatusSuccessful, log))
	h.chain.SetHead(testutil.Block(4, tx))

	msgs := h.tick(t, 4)
	txMsgs := ofType(msgs, model.MessageContractTransaction)
	require.Len(t, txMsgs, 1)
	require.Empty(t, txMsgs[0].Data.(model.ContractTransactionRecord).Events)
	require.Empty(t, ofType(msgs, model.MessageContractEvent))
}

func TestEnumFieldsDecodeToLabels(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	to := testutil.VaccineAddress
	tx := testutil.Tx(1, &to)
	patient := common.HexToAddress("0x4444444444444444444444444444444444444444")
	h.chain.AddReceipt(testutil.Receipt(tx, 2, types.ReceiptStatusSuccessful,
		testutil.VaccineRecordLog(t, big.NewInt(1), patient, "MMR", 0, 1700000000),
		testutil.StatusChangedLog(t, 1, 99),
	))
	h.chain.SetHead(testutil.Block(2, tx))

	msgs := h.tick(t, 2)
	events := ofType(msgs, model.MessageContractEvent)
	require.Len(t, events, 2)

	fields := map[string]map[string]string{}
	for _, msg := range events {
		event := msg.Data.(model.DecodedEvent)
		fields[event.EventName] = event.Fields
	}
	require.Equal(t, "LEFT_ARM", fields["VaccineRecordCreated"]["site"])
	require.Equal(t, "UNKNOWN", fields["RecordStatusChanged"]["status"])
	require.Equal(t, uint64(1), h.mon.GetStats().TotalVaccineRecords)
}

func TestReceiptFailureSkipsOnlyThatTransaction(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	to := testutil.IdentityAddress
	broken := testutil.Tx(1, &to)
	h.chain.FailReceipt(broken.Hash, errors.New("receipt timeout"))
	good := identityTx(t, h.chain, 2, 3, "carol")
	h.chain.SetHead(testutil.Block(3, broken, good))

	msgs := h.tick(t, 3)
	txMsgs := ofType(msgs, model.MessageContractTransaction)
	require.Len(t, txMsgs, 1)
	require.Equal(t, good.Hash.Hex(), txMsgs[0].Data.(model.ContractTransactionRecord).Hash)
	require.Equal(t, 2, h.chain.ReceiptCalls())
	require.Equal(t, uint64(2), h.mon.GetStats().TotalTransactions)
}

func TestFailedTransactionStatus(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	to := testutil.IdentityAddress
	tx := testutil.Tx(1, &to)
	h.chain.AddReceipt(testutil.Receipt(tx, 8, types.ReceiptStatusFailed))
	h.chain.SetHead(testutil.Block(8, tx))

	txMsgs := ofType(h.tick(t, 8), model.MessageContractTransaction)
	require.Len(t, txMsgs, 1)
	require.Equal(t, model.TxStatusFailed, txMsgs[0].Data.(model.ContractTransactionRecord).Status)
}

func TestPollFailureSkipsTick(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.chain.FailHead(errors.New("connection refused"))
	h.clock.Advance(t, pollInterval)
	require.Eventually(t, func() bool { return h.chain.LatestCalls() == 1 }, waitTimeout, 10*time.Millisecond)
	require.Empty(t, ofType(h.drain(), model.MessageNewBlock))
	require.True(t, h.mon.Running())

	h.chain.SetHead(testutil.Block(1))
	h.tick(t, 1)
}

func TestArchiveFailureDoesNotStopPublishing(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("disk full")
	h.start(t)

	h.chain.SetHead(testutil.Block(1, identityTx(t, h.chain, 1, 1, "dave")))
	h.tick(t, 1)
	h.chain.SetHead(testutil.Block(2, identityTx(t, h.chain, 2, 2, "erin")))
	msgs := h.tick(t, 2)
	require.Len(t, ofType(msgs, model.MessageContractTransaction), 1)
}

func TestStatsRefreshPublishesSnapshot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.chain.SetCallResult(testutil.VaccineAddress, testutil.VaccineABI(t), "getTotalRecords", big.NewInt(17)))
	h.start(t)
	require.Equal(t, uint64(17), h.mon.GetStats().TotalVaccineRecords)

	require.NoError(t, h.chain.SetCallResult(testutil.VaccineAddress, testutil.VaccineABI(t), "getTotalRecords", big.NewInt(20)))
	h.clock.Advance(t, statsInterval)

	deadline := time.After(waitTimeout)
	for {
		select {
		case msg := <-h.sub.C:
			if msg.Type != model.MessageBlockchainStats {
				continue
			}
			stats := msg.Data.(model.Stats)
			require.Equal(t, uint64(20), stats.TotalVaccineRecords)
			require.Equal(t, 1, stats.ConnectedSubscribers)
			return
		case <-deadline:
			t.Fatalf("no stats message")
		}
	}
}

func TestStatsRefreshFailureKeepsCounters(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.chain.SetCallResult(testutil.VaccineAddress, testutil.VaccineABI(t), "getTotalRecords", big.NewInt(4)))
	h.start(t)

	h.chain.FailCalls(errors.New("rpc down"))
	h.clock.Advance(t, statsInterval)
	require.Eventually(t, func() bool {
		return len(ofType(h.drain(), model.MessageBlockchainStats)) == 1
	}, waitTimeout, 10*time.Millisecond)
	require.Equal(t, uint64(4), h.mon.GetStats().TotalVaccineRecords)
}

func TestStartBeforeInitialize(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.mon.Start(context.Background()), monitor.ErrNotInitialized)
	require.False(t, h.mon.Running())
	require.Zero(t, h.clock.Tickers())
}

func TestInitializeRequiresRegistry(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.mon.Initialize(context.Background(), nil))
}

func TestInitializeWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	require.ErrorIs(t, h.mon.Initialize(context.Background(), testutil.NewRegistry(t)), monitor.ErrRunning)
}

func TestDoubleStartKeepsSingleTimer(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	require.NoError(t, h.mon.Start(context.Background()))
	require.Equal(t, 2, h.clock.Tickers())

	for i := 0; i < 5; i++ {
		h.clock.Advance(t, pollInterval)
	}
	require.Eventually(t, func() bool { return h.chain.LatestCalls() == 5 }, waitTimeout, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 5, h.chain.LatestCalls())
}

func TestStopHaltsTicks(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.chain.SetHead(testutil.Block(1))
	h.tick(t, 1)

	h.mon.Stop()
	require.False(t, h.mon.Running())
	require.True(t, h.clock.AllStopped())

	calls := h.chain.LatestCalls()
	h.chain.SetHead(testutil.Block(2))
	for i := 0; i < 5; i++ {
		h.clock.Advance(t, pollInterval)
	}

	require.Zero(t, h.clock.LateReads())
	require.Empty(t, h.drain())
	require.Equal(t, calls, h.chain.LatestCalls())
}

// gatedChain holds every receipt fetch until release is closed.
type gatedChain struct {
	*testutil.FakeChain
	entered chan struct{}
	release chan struct{}
}

func (g *gatedChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.FakeChain.TransactionReceipt(context.WithoutCancel(ctx), hash)
}

func TestStopDuringTickDiscardsInFlightBlock(t *testing.T) {
	gate := &gatedChain{entered: make(chan struct{}, 1), release: make(chan struct{})}
	h := newHarnessWith(t, func(fake *testutil.FakeChain) monitor.Chain {
		gate.FakeChain = fake
		return gate
	})
	h.start(t)
	h.drain()

	h.chain.SetHead(testutil.Block(1, identityTx(t, h.chain, 1, 1, "alice")))
	h.clock.Advance(t, pollInterval)
	select {
	case <-gate.entered:
	case <-time.After(waitTimeout):
		t.Fatalf("tick never reached the receipt fetch")
	}

	stopped := make(chan struct{})
	go func() {
		h.mon.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return !h.mon.Running() }, waitTimeout, time.Millisecond)

	close(gate.release)
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatalf("stop did not return after the tick was released")
	}

	require.Equal(t, 1, h.chain.ReceiptCalls())
	require.Empty(t, h.drain())
	require.Zero(t, h.sink.Len())

	stats := h.mon.GetStats()
	require.Zero(t, stats.LastBlockNumber)
	require.Zero(t, stats.TotalBlocks)
	require.Zero(t, stats.TotalTransactions)
	require.Zero(t, stats.TotalIdentities)
}

func TestDoubleStopIsNoop(t *testing.T) {
	h := newHarness(t)
	h.mon.Stop()

	h.start(t)
	h.mon.Stop()
	h.mon.Stop()
	require.False(t, h.mon.Running())
}

func TestRestartAfterStop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.chain.SetHead(testutil.Block(1))
	h.tick(t, 1)
	h.mon.Stop()

	require.NoError(t, h.mon.Start(context.Background()))
	require.Equal(t, 4, h.clock.Tickers())
	h.chain.SetHead(testutil.Block(2))
	h.tick(t, 2)
	require.Equal(t, uint64(2), h.mon.GetStats().TotalBlocks)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.mon.Unsubscribe(h.sub.ID)
	h.mon.Unsubscribe(h.sub.ID)
	require.Zero(t, h.mon.GetStats().ConnectedSubscribers)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := monitor.New(monitor.Config{}, monitor.Deps{Hub: hub.New(hub.Config{}, nil)})
	require.Error(t, err)
	_, err = monitor.New(monitor.Config{}, monitor.Deps{Chain: testutil.NewFakeChain()})
	require.Error(t, err)
}
