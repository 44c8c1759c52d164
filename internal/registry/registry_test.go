package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"chainmonitor/internal/model"
	"chainmonitor/internal/registry"
	"chainmonitor/internal/testutil"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build", "IdentityRegistry.json"), testutil.IdentityABIJSON)
	writeFile(t, filepath.Join(dir, "build", "VaccineRegistry.json"), `{
  "contractName": "VaccineRegistry",
  "abi": `+testutil.VaccineABIJSON+`,
  "networks": {"5777": {"address": "0x2222222222222222222222222222222222222222"}}
}`)
	manifestPath := filepath.Join(dir, "contracts.yaml")
	writeFile(t, manifestPath, `
contracts:
  - name: IdentityRegistry
    address: "0x1111111111111111111111111111111111111111"
    abi: build/IdentityRegistry.json
    events:
      IdentityCreated:
        counter: identities
  - name: VaccineRegistry
    network: "5777"
    abi: build/VaccineRegistry.json
    events:
      VaccineRecordCreated:
        counter: vaccine_records
        enums:
          site: [LEFT_ARM, RIGHT_ARM, LEFT_THIGH, RIGHT_THIGH]
    refresh:
      - method: getTotalRecords
        counter: vaccine_records
`)

	reg, err := registry.Load(manifestPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 contracts, got %d", reg.Len())
	}

	vaccine, ok := reg.Lookup(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	if !ok {
		t.Fatalf("vaccine registry not found by network address")
	}
	topic := crypto.Keccak256Hash([]byte("VaccineRecordCreated(uint256,address,string,uint8,uint256)"))
	schema, ok := vaccine.Events[topic]
	if !ok {
		t.Fatalf("missing schema for topic %s", topic.Hex())
	}
	if schema.Counter != model.CounterVaccineRecords {
		t.Fatalf("counter mismatch: %q", schema.Counter)
	}
	if kind := fieldKind(schema, "site"); kind != registry.KindEnum {
		t.Fatalf("site should be enum, got %s", kind)
	}
	if len(vaccine.Refresh) != 1 || vaccine.Refresh[0].Method != "getTotalRecords" {
		t.Fatalf("refresh mismatch: %+v", vaccine.Refresh)
	}
}

func fieldKind(schema *registry.EventSchema, name string) registry.FieldKind {
	for i, field := range schema.FieldNames {
		if field == name {
			return schema.FieldKinds[i]
		}
	}
	return registry.KindOther
}

func TestSchemaFieldsParallel(t *testing.T) {
	reg := testutil.NewRegistry(t)
	for _, c := range reg.Contracts() {
		for topic, schema := range c.Events {
			if topic != schema.Topic {
				t.Fatalf("%s: topic key mismatch", schema.EventName)
			}
			if len(schema.FieldNames) != len(schema.FieldKinds) {
				t.Fatalf("%s: %d names vs %d kinds", schema.EventName, len(schema.FieldNames), len(schema.FieldKinds))
			}
			if len(schema.FieldNames) != len(schema.Inputs) {
				t.Fatalf("%s: inputs length mismatch", schema.EventName)
			}
		}
	}
}

func TestLookupIgnoresCase(t *testing.T) {
	reg := testutil.NewRegistry(t)

	lower := strings.ToLower(testutil.VaccineAddress.Hex())
	upper := "0x" + strings.ToUpper(strings.TrimPrefix(lower, "0x"))
	for _, addr := range []string{lower, upper, testutil.VaccineAddress.Hex()} {
		c, ok := reg.Lookup(common.HexToAddress(addr))
		if !ok || c.Name != "VaccineRegistry" {
			t.Fatalf("lookup %s failed", addr)
		}
	}
	if _, ok := reg.Lookup(common.HexToAddress("0x3333333333333333333333333333333333333333")); ok {
		t.Fatalf("unexpected match for untracked address")
	}
}

func TestUnnamedInputsGetPositionalNames(t *testing.T) {
	parsed := mustABI(t, `[{"anonymous": false, "inputs": [
		{"indexed": true, "name": "", "type": "address"},
		{"indexed": false, "name": "", "type": "uint256"}
	], "name": "Ping", "type": "event"}]`)

	c, err := registry.NewTrackedContract("Pinger", common.HexToAddress("0x4444444444444444444444444444444444444444"), parsed, nil, nil)
	if err != nil {
		t.Fatalf("contract: %v", err)
	}
	schema, ok := c.Events[parsed.Events["Ping"].ID]
	if !ok {
		t.Fatalf("missing Ping")
	}
	if schema.FieldNames[0] != "arg0" || schema.FieldNames[1] != "arg1" {
		t.Fatalf("unexpected names: %v", schema.FieldNames)
	}
}

func TestEnumForUnknownField(t *testing.T) {
	_, err := registry.NewTrackedContract("VaccineRegistry", testutil.VaccineAddress, testutil.VaccineABI(t),
		map[string]registry.EventMeta{
			"VaccineRecordCreated": {Enums: map[string][]string{"arm": {"LEFT"}}},
		}, nil)
	if !errors.Is(err, registry.ErrUnknownEnumField) {
		t.Fatalf("expected ErrUnknownEnumField, got %v", err)
	}
}

func TestEnumOnNonIntegerField(t *testing.T) {
	_, err := registry.NewTrackedContract("VaccineRegistry", testutil.VaccineAddress, testutil.VaccineABI(t),
		map[string]registry.EventMeta{
			"VaccineRecordCreated": {Enums: map[string][]string{"vaccine": {"PFIZER"}}},
		}, nil)
	if err == nil {
		t.Fatalf("expected error for enum on string field")
	}
}

func TestInvalidRefreshSource(t *testing.T) {
	cases := []registry.RefreshSource{
		{Method: "missing", Counter: model.CounterVaccineRecords},
		{Method: "getTotalRecords", Counter: model.CounterNone},
	}
	for _, src := range cases {
		_, err := registry.NewTrackedContract("VaccineRegistry", testutil.VaccineAddress, testutil.VaccineABI(t), nil, []registry.RefreshSource{src})
		if err == nil {
			t.Fatalf("expected error for refresh source %+v", src)
		}
	}
}

func TestDuplicateAddress(t *testing.T) {
	a, err := registry.NewTrackedContract("A", testutil.VaccineAddress, testutil.VaccineABI(t), nil, nil)
	if err != nil {
		t.Fatalf("contract a: %v", err)
	}
	b, err := registry.NewTrackedContract("B", testutil.VaccineAddress, testutil.VaccineABI(t), nil, nil)
	if err != nil {
		t.Fatalf("contract b: %v", err)
	}
	if _, err := registry.New(a, b); err == nil {
		t.Fatalf("expected duplicate address error")
	}
}

func TestLoadRequiresAddress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "abi.json"), testutil.IdentityABIJSON)
	manifestPath := filepath.Join(dir, "contracts.yaml")
	writeFile(t, manifestPath, `
contracts:
  - name: IdentityRegistry
    abi: abi.json
`)
	if _, err := registry.Load(manifestPath); err == nil {
		t.Fatalf("expected missing address error")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
