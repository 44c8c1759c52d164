package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"chainmonitor/internal/model"
	"chainmonitor/internal/registry"
)

// UnknownLabel is rendered for enum values outside the lookup table.
const UnknownLabel = "UNKNOWN"

// Decoder decodes receipt logs against tracked contract schemas.
type Decoder struct {
	logger *zap.Logger
}

// New builds a Decoder.
func New(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger.With(zap.String("component", "decoder"))}
}

// DecodeReceipt decodes every log the contract emitted with a known topic0.
// Logs from other addresses or with unknown topics are skipped silently. A
// log that fails to decode is logged, reported in the error slice and skipped.
func (d *Decoder) DecodeReceipt(contract *registry.TrackedContract, txHash common.Hash, blockNumber uint64, logs []*types.Log) ([]model.DecodedEvent, []model.DecodeError) {
	if contract == nil {
		return nil, nil
	}

	var events []model.DecodedEvent
	var failures []model.DecodeError
	for _, log := range logs {
		if log == nil || log.Address != contract.Address || len(log.Topics) == 0 {
			continue
		}
		schema, ok := contract.Events[log.Topics[0]]
		if !ok {
			continue
		}

		fields, err := decodeFields(schema, log)
		if err != nil {
			failure := model.DecodeError{
				ContractName: contract.Name,
				BlockNumber:  blockNumber,
				TxHash:       txHash.Hex(),
				LogIndex:     log.Index,
				Address:      log.Address.Hex(),
				Topic0:       log.Topics[0].Hex(),
				Error:        err.Error(),
			}
			d.logger.Warn("decode log failed",
				zap.String("contract", contract.Name),
				zap.String("event", schema.EventName),
				zap.String("tx_hash", failure.TxHash),
				zap.Uint("log_index", log.Index),
				zap.Error(err),
			)
			failures = append(failures, failure)
			continue
		}

		events = append(events, model.DecodedEvent{
			ContractName:    contract.Name,
			EventName:       schema.EventName,
			BlockNumber:     blockNumber,
			TransactionHash: txHash.Hex(),
			LogIndex:        log.Index,
			Fields:          fields,
		})
	}
	return events, failures
}

func decodeFields(schema *registry.EventSchema, log *types.Log) (fields map[string]string, err error) {
	defer func() {
		if r := recover(); r != nil {
			fields = nil
			err = fmt.Errorf("decode %s: panic: %v", schema.EventName, r)
		}
	}()

	if len(log.Topics) == 0 || log.Topics[0] != schema.Topic {
		return nil, fmt.Errorf("topic0 does not match %s", schema.EventName)
	}

	values := make(map[string]interface{}, len(schema.FieldNames))

	indexed := indexedArguments(schema.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(log.Topics))
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}

	nonIndexed := schema.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(values, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", schema.EventName, err)
		}
	}

	fields = make(map[string]string, len(schema.FieldNames))
	for i, name := range schema.FieldNames {
		value, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("field %s missing after decode", name)
		}
		if schema.FieldKinds[i] == registry.KindEnum {
			fields[name] = enumLabel(value, schema.EnumLookups[name])
			continue
		}
		fields[name] = formatValue(value)
	}
	return fields, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

// enumLabel maps an enum index to its label; anything out of range is UnknownLabel.
func enumLabel(value interface{}, labels []string) string {
	idx, err := asBigInt(value)
	if err != nil || idx.Sign() < 0 || !idx.IsInt64() {
		return UnknownLabel
	}
	i := idx.Int64()
	if i >= int64(len(labels)) {
		return UnknownLabel
	}
	return labels[i]
}
