package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"omnipool/crypto"
	"omnipool/native/pool"
)

// ValidateConfig rejects deployments the engine could not initialise.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	instance, err := c.InstanceAddress()
	if err != nil {
		return fmt.Errorf("config: Instance: %w", err)
	}
	if instance == (common.Address{}) {
		return fmt.Errorf("config: Instance must not be the zero address")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be positive")
	}
	genesis, err := c.Genesis()
	if err != nil {
		return err
	}
	distinct := make(map[common.Address]struct{}, len(genesis.Signers))
	for _, s := range genesis.Signers {
		if s == (common.Address{}) {
			return fmt.Errorf("config: signer must not be the zero address")
		}
		distinct[s] = struct{}{}
	}
	if len(distinct) < pool.SignatureThreshold {
		return fmt.Errorf("config: need at least %d distinct signers, have %d", pool.SignatureThreshold, len(distinct))
	}
	if c.Gateway != "" {
		if _, err := c.GatewayAddress(); err != nil {
			return fmt.Errorf("config: Gateway: %w", err)
		}
	}
	symbols := make(map[string]struct{}, len(c.Assets))
	for i, a := range c.Assets {
		sym := NormalizeSymbol(a.Symbol)
		if sym == "" || sym == "NATIVE" {
			return fmt.Errorf("config: assets[%d]: invalid symbol %q", i, a.Symbol)
		}
		if _, dup := symbols[sym]; dup {
			return fmt.Errorf("config: assets[%d]: duplicate symbol %s", i, sym)
		}
		symbols[sym] = struct{}{}
		if _, err := crypto.ParseAddress(a.Address); err != nil {
			return fmt.Errorf("config: assets[%d].Address: %w", i, err)
		}
	}
	if _, err := c.RouterRates(); err != nil {
		return err
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	return nil
}
