package config

import (
	"fmt"
	"math/big"
	"strings"

	"charityledger/crypto"
)

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: unknown Backend %q", c.Backend)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("config: ChainID must be positive")
	}
	owner, err := crypto.ParseAddress(c.Owner)
	if err != nil {
		return fmt.Errorf("config: Owner: %w", err)
	}
	vault, err := crypto.ParseAddress(c.Vault)
	if err != nil {
		return fmt.Errorf("config: Vault: %w", err)
	}
	if owner == vault {
		return fmt.Errorf("config: Vault must differ from Owner")
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("config: rpc rate limits must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry SampleRatio must be within [0,1]")
	}
	seen := make(map[[20]byte]struct{}, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return fmt.Errorf("config: genesis[%d].Address: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: genesis[%d].Address duplicates an earlier entry", i)
		}
		seen[addr] = struct{}{}
		if _, err := ParseAmount(alloc.Balance); err != nil {
			return fmt.Errorf("config: genesis[%d].Balance: %w", i, err)
		}
	}
	return nil
}

// ParseAmount parses a non-negative base-10 integer amount.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

// Allocations returns the parsed genesis allocations keyed by address.
func (c *Config) Allocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		amount, err := ParseAmount(alloc.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		out[addr] = amount
	}
	return out, nil
}
