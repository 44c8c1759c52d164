package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type manifest struct {
	Contracts []contractEntry `yaml:"contracts"`
}

type contractEntry struct {
	Name    string                `yaml:"name"`
	Address string                `yaml:"address"`
	Network string                `yaml:"network"`
	ABI     string                `yaml:"abi"`
	Events  map[string]eventEntry `yaml:"events"`
	Refresh []refreshEntry        `yaml:"refresh"`
}

type eventEntry struct {
	Counter string              `yaml:"counter"`
	Enums   map[string][]string `yaml:"enums"`
}

type refreshEntry struct {
	Method  string `yaml:"method"`
	Counter string `yaml:"counter"`
}

// artifact covers both truffle/hardhat build outputs and bare ABI arrays.
type artifact struct {
	ABI      json.RawMessage `json:"abi"`
	Networks map[string]struct {
		Address string `json:"address"`
	} `json:"networks"`
}

// Load reads a YAML manifest and the ABI artifacts it references.
// Relative ABI paths resolve against the manifest directory.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(m.Contracts) == 0 {
		return nil, fmt.Errorf("registry %s lists no contracts", path)
	}

	baseDir := filepath.Dir(path)
	contracts := make([]*TrackedContract, 0, len(m.Contracts))
	for _, entry := range m.Contracts {
		contract, err := buildContract(baseDir, entry)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, contract)
	}

	return New(contracts...)
}

func buildContract(baseDir string, entry contractEntry) (*TrackedContract, error) {
	if entry.ABI == "" {
		return nil, fmt.Errorf("contract %s: abi path is required", entry.Name)
	}
	abiPath := entry.ABI
	if !filepath.IsAbs(abiPath) {
		abiPath = filepath.Join(baseDir, abiPath)
	}

	contractABI, networks, err := readArtifact(abiPath)
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", entry.Name, err)
	}

	address, err := resolveAddress(entry, networks)
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", entry.Name, err)
	}

	meta := make(map[string]EventMeta, len(entry.Events))
	for name, ev := range entry.Events {
		counter, err := parseCounter(ev.Counter)
		if err != nil {
			return nil, fmt.Errorf("contract %s event %s: %w", entry.Name, name, err)
		}
		meta[name] = EventMeta{Counter: counter, Enums: ev.Enums}
	}

	refresh := make([]RefreshSource, 0, len(entry.Refresh))
	for _, r := range entry.Refresh {
		counter, err := parseCounter(r.Counter)
		if err != nil {
			return nil, fmt.Errorf("contract %s refresh %s: %w", entry.Name, r.Method, err)
		}
		refresh = append(refresh, RefreshSource{Method: r.Method, Counter: counter})
	}

	return NewTrackedContract(entry.Name, address, contractABI, meta, refresh)
}

func readArtifact(path string) (abi.ABI, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("read abi: %w", err)
	}
	data = bytes.TrimSpace(data)

	abiJSON := data
	networks := map[string]string{}
	if len(data) > 0 && data[0] == '{' {
		var art artifact
		if err := json.Unmarshal(data, &art); err != nil {
			return abi.ABI{}, nil, fmt.Errorf("parse artifact: %w", err)
		}
		if len(art.ABI) == 0 {
			return abi.ABI{}, nil, fmt.Errorf("artifact %s has no abi", path)
		}
		abiJSON = art.ABI
		for id, n := range art.Networks {
			if n.Address != "" {
				networks[id] = n.Address
			}
		}
	}

	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, nil, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, networks, nil
}

func resolveAddress(entry contractEntry, networks map[string]string) (common.Address, error) {
	if entry.Address != "" {
		return parseAddress(entry.Address)
	}
	if entry.Network != "" {
		addr, ok := networks[entry.Network]
		if !ok {
			return common.Address{}, fmt.Errorf("artifact has no deployment for network %s", entry.Network)
		}
		return parseAddress(addr)
	}
	if len(networks) == 1 {
		for _, addr := range networks {
			return parseAddress(addr)
		}
	}
	if len(networks) > 1 {
		ids := make([]string, 0, len(networks))
		for id := range networks {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return common.Address{}, fmt.Errorf("artifact deployed on several networks %v, set network", ids)
	}
	return common.Address{}, fmt.Errorf("address is required")
}
