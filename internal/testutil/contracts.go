// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chainmonitor/internal/model"
	"chainmonitor/internal/registry"
)

const IdentityABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "identityId", "type": "uint256"},
      {"indexed": false, "internalType": "string", "name": "name", "type": "string"}
    ],
    "name": "IdentityCreated",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "string", "name": "name", "type": "string"}],
    "name": "createIdentity",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getTotalIdentities",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const VaccineABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "recordId", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "patient", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "vaccine", "type": "string"},
      {"indexed": false, "internalType": "enum VaccineRegistry.Site", "name": "site", "type": "uint8"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "VaccineRecordCreated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "recordId", "type": "uint256"},
      {"indexed": false, "internalType": "enum VaccineRegistry.Status", "name": "status", "type": "uint8"}
    ],
    "name": "RecordStatusChanged",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "getTotalRecords",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	IdentityAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")
	VaccineAddress  = common.HexToAddress("0x2222222222222222222222222222222222222222")

	SiteLabels   = []string{"LEFT_ARM", "RIGHT_ARM", "LEFT_THIGH", "RIGHT_THIGH"}
	StatusLabels = []string{"PENDING", "VERIFIED", "REVOKED"}
)

var (
	identityABI, vaccineABI abi.ABI
	abiOnce                 sync.Once
	abiErr                  error
)

func parsedABIs() (abi.ABI, abi.ABI, error) {
	abiOnce.Do(func() {
		identityABI, abiErr = abi.JSON(strings.NewReader(IdentityABIJSON))
		if abiErr != nil {
			return
		}
		vaccineABI, abiErr = abi.JSON(strings.NewReader(VaccineABIJSON))
	})
	return identityABI, vaccineABI, abiErr
}

// IdentityABI returns the parsed identity registry ABI.
func IdentityABI(t testing.TB) abi.ABI {
	t.Helper()
	id, _, err := parsedABIs()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	return id
}

// VaccineABI returns the parsed vaccine registry ABI.
func VaccineABI(t testing.TB) abi.ABI {
	t.Helper()
	_, vx, err := parsedABIs()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	return vx
}

// NewRegistry builds the two-contract registry used across tests.
func NewRegistry(t testing.TB) *registry.Registry {
	t.Helper()

	identity, err := registry.NewTrackedContract("IdentityRegistry", IdentityAddress, IdentityABI(t),
		map[string]registry.EventMeta{
			"IdentityCreated": {Counter: model.CounterIdentities},
		}, nil)
	if err != nil {
		t.Fatalf("identity contract: %v", err)
	}

	vaccine, err := registry.NewTrackedContract("VaccineRegistry", VaccineAddress, VaccineABI(t),
		map[string]registry.EventMeta{
			"VaccineRecordCreated": {
				Counter: model.CounterVaccineRecords,
				Enums:   map[string][]string{"site": SiteLabels},
			},
			"RecordStatusChanged": {
				Enums: map[string][]string{"status": StatusLabels},
			},
		},
		[]registry.RefreshSource{{Method: "getTotalRecords", Counter: model.CounterVaccineRecords}},
	)
	if err != nil {
		t.Fatalf("vaccine contract: %v", err)
	}

	reg, err := registry.New(identity, vaccine)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

// IdentityCreatedLog builds an IdentityCreated log emitted by the identity registry.
func IdentityCreatedLog(t testing.TB, owner common.Address, identityID int64, name string) *types.Log {
	t.Helper()
	event := IdentityABI(t).Events["IdentityCreated"]
	data, err := event.Inputs.NonIndexed().Pack(name)
	if err != nil {
		t.Fatalf("pack identity: %v", err)
	}
	return &types.Log{
		Address: IdentityAddress,
		Topics:  []common.Hash{event.ID, AddressTopic(owner), BigTopic(big.NewInt(identityID))},
		Data:    data,
	}
}

// VaccineRecordLog builds a VaccineRecordCreated log emitted by the vaccine registry.
func VaccineRecordLog(t testing.TB, recordID *big.Int, patient common.Address, vaccine string, site uint8, timestamp int64) *types.Log {
	t.Helper()
	event := VaccineABI(t).Events["VaccineRecordCreated"]
	data, err := event.Inputs.NonIndexed().Pack(vaccine, site, big.NewInt(timestamp))
	if err != nil {
		t.Fatalf("pack vaccine record: %v", err)
	}
	return &types.Log{
		Address: VaccineAddress,
		Topics:  []common.Hash{event.ID, BigTopic(recordID), AddressTopic(patient)},
		Data:    data,
	}
}

// StatusChangedLog builds a RecordStatusChanged log emitted by the vaccine registry.
func StatusChangedLog(t testing.TB, recordID int64, status uint8) *types.Log {
	t.Helper()
	event := VaccineABI(t).Events["RecordStatusChanged"]
	data, err := event.Inputs.NonIndexed().Pack(status)
	if err != nil {
		t.Fatalf("pack status: %v", err)
	}
	return &types.Log{
		Address: VaccineAddress,
		Topics:  []common.Hash{event.ID, BigTopic(big.NewInt(recordID))},
		Data:    data,
	}
}

func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func BigTopic(value *big.Int) common.Hash {
	return common.BigToHash(value)
}
