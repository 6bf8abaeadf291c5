package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tradesee/core"
	"tradesee/crypto"
	"tradesee/native/escrow"
)

var defaultMintSeed = []byte("tradesee/default-mint")

// DefaultDepositMint is the mint written to fresh configuration files.
func DefaultDepositMint() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256(defaultMintSeed)[12:])
	return addr
}

// Validate checks every field that would otherwise fail during startup.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("ListenAddress required")
	}
	switch c.Database {
	case DatabaseLevelDB:
		if strings.TrimSpace(c.DataDir) == "" {
			return errors.New("DataDir required for leveldb database")
		}
	case DatabaseMemory:
	default:
		return fmt.Errorf("Database: unknown backend %q", c.Database)
	}
	if _, err := c.Mint(); err != nil {
		return err
	}
	if _, err := c.EnginePolicy(); err != nil {
		return err
	}
	if _, err := c.GenesisAllocations(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.Level: unknown level %q", c.Logging.Level)
	}
	if c.Telemetry.SampleRatio < 0 {
		return errors.New("telemetry.SampleRatio must not be negative")
	}
	if c.Auth.Enabled && c.AuthSecret() == "" {
		return errors.New("auth: HMACSecret or SecretEnv required when enabled")
	}
	if c.Auth.ClockSkewSeconds < 0 {
		return errors.New("auth.ClockSkewSeconds must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit: values must not be negative")
	}
	if c.Indexer.Enabled && strings.TrimSpace(c.Indexer.Path) == "" {
		return errors.New("indexer.Path required when enabled")
	}
	return nil
}

// Mint parses DepositMint.
func (c *Config) Mint() ([20]byte, error) {
	mint, err := crypto.ParseAddress(c.DepositMint)
	if err != nil {
		return mint, fmt.Errorf("DepositMint: %w", err)
	}
	return mint, nil
}

// EnginePolicy converts the policy section into engine values.
func (c *Config) EnginePolicy() (escrow.Policy, error) {
	var p escrow.Policy
	expiry, err := escrow.ParseDepositExpiryPolicy(strings.ToLower(strings.TrimSpace(c.Policy.DepositExpiry)))
	if err != nil {
		return p, fmt.Errorf("policy.DepositExpiry: %w", err)
	}
	p.DepositExpiry = expiry
	p.RestrictDepositor = c.Policy.RestrictDepositor
	for i, raw := range c.Policy.DefaultOracles {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return p, fmt.Errorf("policy.DefaultOracles[%d]: %w", i, err)
		}
		p.DefaultOracles = append(p.DefaultOracles, addr)
	}
	return p, nil
}

// GenesisAllocations converts the genesis section into ledger credits.
func (c *Config) GenesisAllocations() ([]core.Allocation, error) {
	mint, err := c.Mint()
	if err != nil {
		return nil, err
	}
	out := make([]core.Allocation, 0, len(c.Genesis))
	for i, g := range c.Genesis {
		owner, err := crypto.ParseAddress(g.Owner)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d].Owner: %w", i, err)
		}
		alloc := core.Allocation{Owner: owner, Mint: mint, Amount: g.Amount}
		if strings.TrimSpace(g.Mint) != "" {
			if alloc.Mint, err = crypto.ParseAddress(g.Mint); err != nil {
				return nil, fmt.Errorf("genesis[%d].Mint: %w", i, err)
			}
		}
		if g.Amount == 0 {
			return nil, fmt.Errorf("genesis[%d].Amount must be positive", i)
		}
		out = append(out, alloc)
	}
	return out, nil
}

// AuthSecret returns the HMAC secret, preferring the environment variable
// named by SecretEnv.
func (c *Config) AuthSecret() string {
	if env := strings.TrimSpace(c.Auth.SecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}

// ClockSkew is the tolerated token clock drift.
func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.Auth.ClockSkewSeconds) * time.Second
}
