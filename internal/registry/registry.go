package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"chainmonitor/internal/model"
)

// ErrUnknownEnumField is returned when an enum lookup names a field the event does not have.
var ErrUnknownEnumField = errors.New("enum lookup for unknown field")

// FieldKind classifies an event field for rendering.
type FieldKind int

const (
	KindOther FieldKind = iota
	KindAddress
	KindUint
	KindInt
	KindBool
	KindString
	KindBytes
	KindFixedBytes
	KindEnum
)

func (k FieldKind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindFixedBytes:
		return "fixed_bytes"
	case KindEnum:
		return "enum"
	default:
		return "other"
	}
}

func kindOf(t abi.Type) FieldKind {
	switch t.T {
	case abi.AddressTy:
		return KindAddress
	case abi.UintTy:
		return KindUint
	case abi.IntTy:
		return KindInt
	case abi.BoolTy:
		return KindBool
	case abi.StringTy:
		return KindString
	case abi.BytesTy:
		return KindBytes
	case abi.FixedBytesTy, abi.HashTy:
		return KindFixedBytes
	default:
		return KindOther
	}
}

// EventSchema is the precomputed decoding schema for one event signature.
// FieldNames and FieldKinds are parallel and follow ABI input order.
type EventSchema struct {
	EventName   string
	Topic       common.Hash
	FieldNames  []string
	FieldKinds  []FieldKind
	EnumLookups map[string][]string
	Counter     model.Counter

	// Inputs mirrors the ABI inputs with every argument named.
	Inputs abi.Arguments
}

// EventMeta carries registry metadata layered on top of the ABI.
type EventMeta struct {
	Counter model.Counter
	Enums   map[string][]string
}

// NewEventSchema builds a schema from a parsed ABI event.
func NewEventSchema(event abi.Event, meta EventMeta) (*EventSchema, error) {
	if !meta.Counter.Valid() {
		return nil, fmt.Errorf("event %s: unknown counter %q", event.Name, meta.Counter)
	}

	inputs := make(abi.Arguments, len(event.Inputs))
	names := make([]string, len(event.Inputs))
	kinds := make([]FieldKind, len(event.Inputs))
	index := make(map[string]int, len(event.Inputs))
	for i, arg := range event.Inputs {
		if arg.Name == "" {
			arg.Name = fmt.Sprintf("arg%d", i)
		}
		inputs[i] = arg
		names[i] = arg.Name
		kinds[i] = kindOf(arg.Type)
		index[arg.Name] = i
	}

	lookups := make(map[string][]string, len(meta.Enums))
	for field, labels := range meta.Enums {
		i, ok := index[field]
		if !ok {
			return nil, fmt.Errorf("event %s field %s: %w", event.Name, field, ErrUnknownEnumField)
		}
		if kinds[i] != KindUint && kinds[i] != KindInt {
			return nil, fmt.Errorf("event %s field %s: enum field must be an integer, got %s", event.Name, field, inputs[i].Type.String())
		}
		kinds[i] = KindEnum
		lookups[field] = append([]string(nil), labels...)
	}

	return &EventSchema{
		EventName:   event.Name,
		Topic:       event.ID,
		FieldNames:  names,
		FieldKinds:  kinds,
		EnumLookups: lookups,
		Counter:     meta.Counter,
		Inputs:      inputs,
	}, nil
}

// RefreshSource is a zero-argument view call whose integer result overwrites a counter.
type RefreshSource struct {
	Method  string
	Counter model.Counter
}

// TrackedContract is a contract whose transactions and events are monitored.
type TrackedContract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
	Events  map[common.Hash]*EventSchema
	Refresh []RefreshSource
}

// NewTrackedContract precomputes the topic0 table for every event in the ABI.
func NewTrackedContract(name string, address common.Address, contractABI abi.ABI, meta map[string]EventMeta, refresh []RefreshSource) (*TrackedContract, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("contract name is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("contract %s: address is required", name)
	}

	for eventName := range meta {
		if _, ok := contractABI.Events[eventName]; !ok {
			return nil, fmt.Errorf("contract %s: event %s not in abi", name, eventName)
		}
	}

	events := make(map[common.Hash]*EventSchema, len(contractABI.Events))
	for eventName, event := range contractABI.Events {
		if event.Anonymous {
			continue
		}
		schema, err := NewEventSchema(event, meta[eventName])
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", name, err)
		}
		events[schema.Topic] = schema
	}

	for _, src := range refresh {
		method, ok := contractABI.Methods[src.Method]
		if !ok {
			return nil, fmt.Errorf("contract %s: refresh method %s not in abi", name, src.Method)
		}
		if len(method.Inputs) != 0 || len(method.Outputs) == 0 {
			return nil, fmt.Errorf("contract %s: refresh method %s must take no arguments and return a value", name, src.Method)
		}
		if src.Counter == model.CounterNone || !src.Counter.Valid() {
			return nil, fmt.Errorf("contract %s: refresh method %s has invalid counter %q", name, src.Method, src.Counter)
		}
	}

	return &TrackedContract{
		Name:    name,
		Address: address,
		ABI:     contractABI,
		Events:  events,
		Refresh: append([]RefreshSource(nil), refresh...),
	}, nil
}

// Registry indexes tracked contracts by address. It is read-only after construction.
type Registry struct {
	contracts []*TrackedContract
	byAddress map[common.Address]*TrackedContract
}

// New builds a registry, rejecting duplicate names or addresses.
func New(contracts ...*TrackedContract) (*Registry, error) {
	r := &Registry{
		contracts: make([]*TrackedContract, 0, len(contracts)),
		byAddress: make(map[common.Address]*TrackedContract, len(contracts)),
	}
	names := make(map[string]struct{}, len(contracts))
	for _, c := range contracts {
		if c == nil {
			continue
		}
		if _, ok := names[c.Name]; ok {
			return nil, fmt.Errorf("duplicate contract name: %s", c.Name)
		}
		if _, ok := r.byAddress[c.Address]; ok {
			return nil, fmt.Errorf("duplicate contract address: %s", c.Address.Hex())
		}
		names[c.Name] = struct{}{}
		r.byAddress[c.Address] = c
		r.contracts = append(r.contracts, c)
	}
	return r, nil
}

// Lookup returns the tracked contract deployed at address.
func (r *Registry) Lookup(address common.Address) (*TrackedContract, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.byAddress[address]
	return c, ok
}

// Contracts returns the tracked contracts in load order.
func (r *Registry) Contracts() []*TrackedContract {
	if r == nil {
		return nil
	}
	out := make([]*TrackedContract, len(r.contracts))
	copy(out, r.contracts)
	return out
}

// Len returns the number of tracked contracts.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.contracts)
}
