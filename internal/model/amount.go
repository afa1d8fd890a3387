package model

import (
	"fmt"
	"math/big"
)

// ParseAmount parses a decimal amount string from an event payload. An empty
// string is zero.
func ParseAmount(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	return parsed, nil
}
