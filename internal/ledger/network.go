package ledger

import (
	"context"
	"errors"
	"fmt"
)

// NetworkParams describes a chain the wallet may be asked to add.
type NetworkParams struct {
	ChainID        int64  `json:"chainId"`
	ChainName      string `json:"chainName"`
	CurrencySymbol string `json:"currencySymbol"`
	RPCURL         string `json:"rpcUrl"`
	ExplorerURL    string `json:"explorerUrl"`
}

// HexChainID renders the chain id the way wallet providers expect it.
func (p NetworkParams) HexChainID() string {
	return fmt.Sprintf("0x%X", p.ChainID)
}

// Network is the wallet provider's chain management surface.
type Network interface {
	ChainID(ctx context.Context) (int64, error)
	SwitchNetwork(ctx context.Context, chainID int64) error
	AddNetwork(ctx context.Context, params NetworkParams) error
}

// EnsureNetwork puts the wallet on the expected chain. An unknown chain is
// added and the switch retried once.
func EnsureNetwork(ctx context.Context, n Network, params NetworkParams) error {
	current, err := n.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if current == params.ChainID {
		return nil
	}

	err = n.SwitchNetwork(ctx, params.ChainID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUnknownChain) {
		return fmt.Errorf("switch to chain %s: %w", params.HexChainID(), err)
	}

	if err := n.AddNetwork(ctx, params); err != nil {
		return fmt.Errorf("add chain %s: %w", params.HexChainID(), err)
	}
	if err := n.SwitchNetwork(ctx, params.ChainID); err != nil {
		return fmt.Errorf("switch to chain %s: %w", params.HexChainID(), err)
	}
	return nil
}
