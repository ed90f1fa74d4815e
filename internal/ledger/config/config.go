// Package config carries the immutable ledger parameters fixed at
// construction: fixed-point precision, genesis anchor, period length and
// the genesis decay rate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/holiman/uint256"
)

// Config is validated once at startup and never mutated afterwards.
type Config struct {
	// RateDecimals is the number of decimal digits in the fixed-point
	// rate representation; the scale is 10^RateDecimals.
	RateDecimals uint64

	// Genesis anchors period 0. Must not be in the future at startup.
	Genesis time.Time

	// PeriodDuration is the length of one decay period.
	PeriodDuration time.Duration

	// InitialRate is the per-period retention factor in effect from
	// genesis, scaled by 10^RateDecimals.
	InitialRate *uint256.Int
}

// Default returns the standard parameters: 25 rate decimals, 30-day
// periods and a 0.15% per-period decay (retention 0.9985).
func Default() Config {
	rate, _ := uint256.FromDecimal("9985000000000000000000000")
	return Config{
		RateDecimals:   25,
		Genesis:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodDuration: 30 * 24 * time.Hour,
		InitialRate:    rate,
	}
}

// FromEnv builds a config from environment variables, falling back to
// Default for unset values.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("DEMURA_RATE_DECIMALS"); v != "" {
		d, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return Config{}, fmt.Errorf("parse DEMURA_RATE_DECIMALS: %w", err)
		}
		cfg.RateDecimals = d
	}
	if v := os.Getenv("DEMURA_GENESIS"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return Config{}, fmt.Errorf("parse DEMURA_GENESIS: %w", err)
		}
		cfg.Genesis = t
	}
	if v := os.Getenv("DEMURA_PERIOD_SECONDS"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse DEMURA_PERIOD_SECONDS: %w", err)
		}
		cfg.PeriodDuration = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("DEMURA_INITIAL_RATE"); v != "" {
		rate, err := uint256.FromDecimal(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse DEMURA_INITIAL_RATE: %w", err)
		}
		cfg.InitialRate = rate
	}

	if err := cfg.Validate(time.Now()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the construction invariants. now is the construction
// time; genesis may not lie after it.
func (c Config) Validate(now time.Time) error {
	if c.RateDecimals == 0 || c.RateDecimals > 76 {
		return fmt.Errorf("rate decimals must be in [1,76], got %d", c.RateDecimals)
	}
	if c.Genesis.IsZero() {
		return fmt.Errorf("genesis timestamp is required")
	}
	if !now.IsZero() && c.Genesis.After(now) {
		return fmt.Errorf("genesis %s is in the future", c.Genesis.Format(time.RFC3339))
	}
	if c.PeriodDuration <= 0 {
		return fmt.Errorf("period duration must be positive")
	}
	if c.InitialRate == nil {
		return fmt.Errorf("initial rate is required")
	}
	return nil
}

// Scale returns 10^RateDecimals, the fixed-point denominator.
func (c Config) Scale() *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(c.RateDecimals))
}
