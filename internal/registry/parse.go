package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"chainmonitor/internal/model"
)

// parseAddress converts a hex address into common.Address. Casing is ignored.
func parseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %s", input)
	}
	return common.HexToAddress(input), nil
}

func parseCounter(input string) (model.Counter, error) {
	c := model.Counter(strings.ToLower(strings.TrimSpace(input)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown counter: %s", input)
	}
	return c, nil
}
