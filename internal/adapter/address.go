package adapter

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/pick-aggregator/internal/models"
	"github.com/pick-aggregator/internal/types"
)

// ErrInvalidAddress indicates the address format is invalid for its chain
var ErrInvalidAddress = fmt.Errorf("invalid address format")

// ErrUnsupportedChain indicates the chain is not served by the provider
var ErrUnsupportedChain = fmt.Errorf("unsupported chain")

const solanaAddressLen = 32

// ValidateTokenAddress checks that key.Address is well formed for key.Chain
func ValidateTokenAddress(key models.TokenKey) error {
	switch {
	case key.Chain == types.ChainSolana:
		raw, err := base58.Decode(key.Address)
		if err != nil || len(raw) != solanaAddressLen {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, key)
		}
		return nil
	case key.Chain.IsEVM():
		if !common.IsHexAddress(key.Address) {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, key)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, key.Chain)
	}
}
