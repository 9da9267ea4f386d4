package config

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeBps bounds the platform fee.
const MaxFeeBps = uint64(10_000)

// Validate performs the semantic checks that decoding cannot express.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Owner) {
		return fmt.Errorf("config: Owner must be a hex address")
	}
	if c.Treasury != "" && !common.IsHexAddress(c.Treasury) {
		return fmt.Errorf("config: Treasury must be a hex address")
	}
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds %d", c.FeeBps, MaxFeeBps)
	}
	switch c.Oracle.Mode {
	case OracleModeManual:
		if c.Oracle.ManualAnswer != "" {
			answer, ok := new(big.Int).SetString(c.Oracle.ManualAnswer, 10)
			if !ok || answer.Sign() <= 0 {
				return fmt.Errorf("config: Oracle.ManualAnswer must be a positive integer")
			}
		}
	case OracleModeChainlink:
		if !common.IsHexAddress(c.Oracle.FeedAddress) {
			return fmt.Errorf("config: Oracle.FeedAddress must be a hex address")
		}
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("config: Chain.RPCURL required for chainlink oracle")
		}
	default:
		return fmt.Errorf("config: unknown Oracle.Mode %q", c.Oracle.Mode)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 || c.RateLimit.MutationTokens < 0 {
		return fmt.Errorf("config: RateLimit values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.MutationTokens > c.RateLimit.Burst {
		return fmt.Errorf("config: RateLimit.MutationTokens %d exceeds Burst %d", c.RateLimit.MutationTokens, c.RateLimit.Burst)
	}
	if c.Auth.Enabled && c.JWTSecret() == "" {
		return fmt.Errorf("config: auth enabled without an HMAC secret")
	}
	return nil
}
