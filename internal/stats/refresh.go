package stats

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"chainmonitor/internal/model"
	"chainmonitor/internal/registry"
)

// ContractCaller performs read-only contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Refresher reads authoritative counter values from tracked contracts.
type Refresher struct {
	caller    ContractCaller
	contracts []*registry.TrackedContract
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRefresher builds a Refresher for every refresh source in reg.
func NewRefresher(caller ContractCaller, reg *registry.Registry, timeout time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	var contracts []*registry.TrackedContract
	if reg != nil {
		for _, contract := range reg.Contracts() {
			if len(contract.Refresh) > 0 {
				contracts = append(contracts, contract)
			}
		}
	}
	return &Refresher{
		caller:    caller,
		contracts: contracts,
		timeout:   timeout,
		logger:    logger.With(zap.String("component", "stats")),
	}
}

// Sources returns the number of configured refresh reads.
func (r *Refresher) Sources() int {
	n := 0
	for _, contract := range r.contracts {
		n += len(contract.Refresh)
	}
	return n
}

// Fetch calls every refresh source. Values feeding the same counter are
// summed. Successful reads are returned even when others fail; failures are
// combined into the returned error.
func (r *Refresher) Fetch(ctx context.Context) (map[model.Counter]uint64, error) {
	values := make(map[model.Counter]uint64)
	if r.caller == nil {
		return values, nil
	}

	var errs error
	failed := make(map[model.Counter]bool)
	for _, contract := range r.contracts {
		for _, source := range contract.Refresh {
			value, err := r.read(ctx, contract, source.Method)
			if err != nil {
				failed[source.Counter] = true
				r.logger.Debug("refresh read failed",
					zap.String("contract", contract.Name),
					zap.String("method", source.Method),
					zap.Error(err),
				)
				errs = multierr.Append(errs, fmt.Errorf("%s.%s: %w", contract.Name, source.Method, err))
				continue
			}
			values[source.Counter] += value
		}
	}
	// A partial sum would understate the counter.
	for counter := range failed {
		delete(values, counter)
	}
	return values, errs
}

func (r *Refresher) read(ctx context.Context, contract *registry.TrackedContract, method string) (uint64, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	values, err := callContractMethod(ctx, r.caller, contract.Address, contract.ABI, method)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("empty result")
	}
	n, ok := values[0].(*big.Int)
	if !ok {
		switch v := values[0].(type) {
		case uint8:
			return uint64(v), nil
		case uint16:
			return uint64(v), nil
		case uint32:
			return uint64(v), nil
		case uint64:
			return v, nil
		}
		return 0, fmt.Errorf("unsupported result type %T", values[0])
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("result %s out of range", n.String())
	}
	return n.Uint64(), nil
}

func callContractMethod(ctx context.Context, caller ContractCaller, to common.Address, contractABI abi.ABI, method string) ([]interface{}, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contractABI.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
