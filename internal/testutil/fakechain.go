package testutil

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainmonitor/internal/chain"
)

var (
	ErrNoHead     = errors.New("fake chain: no head")
	ErrNoReceipt  = errors.New("fake chain: receipt not found")
	ErrNoCallData = errors.New("fake chain: no call result")
)

// FakeChain is an in-memory chain endpoint for tests.
type FakeChain struct {
	mu         sync.Mutex
	head       *chain.Block
	headErr    error
	receipts   map[common.Hash]*types.Receipt
	receiptErr map[common.Hash]error
	results    map[string][]byte
	callErr    error

	latestCalls   int
	receiptCalls  int
	contractCalls int
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		receipts:   make(map[common.Hash]*types.Receipt),
		receiptErr: make(map[common.Hash]error),
		results:    make(map[string][]byte),
	}
}

// SetHead makes block the answer to the next LatestBlock calls.
func (f *FakeChain) SetHead(block *chain.Block) {
	f.mu.Lock()
	f.head = block
	f.headErr = nil
	f.mu.Unlock()
}

// FailHead makes LatestBlock fail with err until SetHead is called.
func (f *FakeChain) FailHead(err error) {
	f.mu.Lock()
	f.headErr = err
	f.mu.Unlock()
}

func (f *FakeChain) AddReceipt(receipt *types.Receipt) {
	f.mu.Lock()
	f.receipts[receipt.TxHash] = receipt
	f.mu.Unlock()
}

func (f *FakeChain) FailReceipt(hash common.Hash, err error) {
	f.mu.Lock()
	f.receiptErr[hash] = err
	f.mu.Unlock()
}

// SetCallResult registers the packed output of a zero-argument view method.
func (f *FakeChain) SetCallResult(to common.Address, contractABI abi.ABI, method string, values ...interface{}) error {
	m, ok := contractABI.Methods[method]
	if !ok {
		return errors.New("fake chain: unknown method " + method)
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.results[callKey(to, m.ID)] = out
	f.mu.Unlock()
	return nil
}

func (f *FakeChain) FailCalls(err error) {
	f.mu.Lock()
	f.callErr = err
	f.mu.Unlock()
}

func (f *FakeChain) LatestBlock(ctx context.Context) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.headErr != nil {
		return nil, f.headErr
	}
	if f.head == nil {
		return nil, ErrNoHead
	}
	block := *f.head
	block.Transactions = append([]chain.Transaction(nil), f.head.Transactions...)
	return &block, nil
}

func (f *FakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.receiptErr[hash]; err != nil {
		return nil, err
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ErrNoReceipt
	}
	return receipt, nil
}

func (f *FakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contractCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, ErrNoCallData
	}
	out, ok := f.results[callKey(*msg.To, msg.Data[:4])]
	if !ok {
		return nil, ErrNoCallData
	}
	return out, nil
}

// LatestCalls returns how many times LatestBlock was called.
func (f *FakeChain) LatestCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latestCalls
}

func (f *FakeChain) ReceiptCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiptCalls
}

func (f *FakeChain) ContractCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contractCalls
}

func callKey(to common.Address, selector []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(selector)
}

// Block builds a chain.Block with the given transactions.
func Block(number uint64, txs ...chain.Transaction) *chain.Block {
	return &chain.Block{
		Number:       number,
		Hash:         common.BigToHash(new(big.Int).SetUint64(number + 1000)),
		Time:         1700000000 + number*2,
		GasUsed:      21000 * uint64(len(txs)),
		GasLimit:     30000000,
		Transactions: txs,
	}
}

// Tx builds a transaction calling to. A nil to is a contract creation.
func Tx(seed uint64, to *common.Address) chain.Transaction {
	return chain.Transaction{
		Hash: common.BigToHash(new(big.Int).SetUint64(seed)),
		From: common.HexToAddress("0x5555555555555555555555555555555555555555"),
		To:   to,
	}
}

// Receipt builds a receipt for tx carrying logs.
func Receipt(tx chain.Transaction, blockNumber uint64, status uint64, logs ...*types.Log) *types.Receipt {
	for i, log := range logs {
		log.TxHash = tx.Hash
		log.BlockNumber = blockNumber
		log.Index = uint(i)
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash,
		GasUsed:     50000,
		Logs:        logs,
		BlockNumber: new(big.Int).SetUint64(blockNumber),
	}
}
