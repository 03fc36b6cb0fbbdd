// Package config loads the YAML configuration files of the coordinator
// and api daemons.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/chainrelay/swap-coordinator/database/mysql"
	"github.com/chainrelay/swap-coordinator/ledger/evm"
)

// Load reads the YAML file at path into the config object.
func Load(path string, config interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "fail to open config file")
	}

	return errors.Wrap(
		yaml.UnmarshalStrict(data, config),
		"fail to parse config file",
	)
}

// LedgerConfig selects and configures one ledger adapter.
type LedgerConfig struct {
	// Kind is "evm" or "sim".
	Kind string `yaml:"kind"`

	// LedgerID names simulated ledgers; EVM ledgers carry their id in
	// the EVM section.
	LedgerID string `yaml:"ledger_id"`

	// HashAlgorithm applies to simulated ledgers only.
	HashAlgorithm string `yaml:"hash_algorithm"`

	// PollSeconds is the monitor poll interval for this ledger.
	PollSeconds uint64 `yaml:"poll_seconds"`

	EVM evm.Config `yaml:"evm"`
}

// CoordinatorConfig defines the config for the coordinator daemon.
type CoordinatorConfig struct {
	MySQL   mysql.Config   `yaml:"mysql"`
	Ledgers []LedgerConfig `yaml:"ledgers"`

	// SafetyMarginSeconds is the minimum timelock gap between the source
	// and destination HTLCs of an accepted order.
	SafetyMarginSeconds uint64 `yaml:"safety_margin_seconds"`

	// DepositMultiplier scales destination amounts into required
	// collateral, e.g. "1.1".
	DepositMultiplier string `yaml:"deposit_multiplier"`

	// SweepSeconds is the expiry sweep interval.
	SweepSeconds uint64 `yaml:"sweep_seconds"`

	// MaxOrderLifetimeSeconds caps any order's TTL. Zero disables the
	// cap and orders expire at their source timelock.
	MaxOrderLifetimeSeconds uint64 `yaml:"max_order_lifetime_seconds"`

	CASRetryBudget int `yaml:"cas_retry_budget"`
}

// APIConfig defines the config for the api daemon.
type APIConfig struct {
	Port  int          `yaml:"port"`
	MySQL mysql.Config `yaml:"mysql"`
}
