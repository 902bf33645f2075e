package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func bigAt(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d: expected *big.Int, got %T", i, out[i])
	}
	return v, nil
}

func addressAt(out []interface{}, i int) (common.Address, error) {
	if i >= len(out) {
		return common.Address{}, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d: expected address, got %T", i, out[i])
	}
	return v, nil
}

func stringAt(out []interface{}, i int) (string, error) {
	if i >= len(out) {
		return "", fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(string)
	if !ok {
		return "", fmt.Errorf("output %d: expected string, got %T", i, out[i])
	}
	return v, nil
}

func boolAt(out []interface{}, i int) (bool, error) {
	if i >= len(out) {
		return false, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(bool)
	if !ok {
		return false, fmt.Errorf("output %d: expected bool, got %T", i, out[i])
	}
	return v, nil
}

func uint8At(out []interface{}, i int) (uint8, error) {
	if i >= len(out) {
		return 0, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(uint8)
	if !ok {
		return 0, fmt.Errorf("output %d: expected uint8, got %T", i, out[i])
	}
	return v, nil
}

func uint16At(out []interface{}, i int) (uint16, error) {
	if i >= len(out) {
		return 0, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(uint16)
	if !ok {
		return 0, fmt.Errorf("output %d: expected uint16, got %T", i, out[i])
	}
	return v, nil
}

func uint64At(out []interface{}, i int) (uint64, error) {
	if i >= len(out) {
		return 0, fmt.Errorf("output %d missing", i)
	}
	v, ok := out[i].(uint64)
	if !ok {
		return 0, fmt.Errorf("output %d: expected uint64, got %T", i, out[i])
	}
	return v, nil
}
