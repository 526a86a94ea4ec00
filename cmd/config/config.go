// Package config loads a bt2cnode's NetworkParams from a YAML file plus
// environment overrides, mirroring the teacher's pkg/config loader.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bt2c.network/node/core"
)

// FileConfig is the on-disk/env-overridable shape consumed by viper. Every
// field may be left out: network_kind then defaults to mainnet, and the
// node fields fall back to the fixed defaults set in Load.
type FileConfig struct {
	NetworkKind string `mapstructure:"network_kind"`

	ListenAddr     string   `mapstructure:"listen_addr"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	DiscoveryTag   string   `mapstructure:"discovery_tag"`

	DataDir string `mapstructure:"data_dir"`

	LogLevel string `mapstructure:"log_level"`

	ValidatorMnemonic string `mapstructure:"validator_mnemonic"`
	ValidatorAccount  uint32 `mapstructure:"validator_account"`
}

// NodeConfig bundles the parsed NetworkParams with the node-operational
// fields that don't belong in the consensus-relevant parameter record.
type NodeConfig struct {
	Params core.NetworkParams

	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
	DataDir        string
	LogLevel       string

	ValidatorMnemonic string
	ValidatorAccount  uint32
}

// AppConfig holds the most recently loaded configuration, mirroring the
// teacher's package-level AppConfig for command-line convenience.
var AppConfig NodeConfig

// Load always reads default.yaml (searched in cmd/config, then config,
// relative to the working directory) and, when env is non-empty, merges
// <env>.yaml over it; it also merges BT2C_-prefixed environment variables
// and a local .env file. NetworkParams are the network_kind preset as is:
// file/env values set the node fields only and do not change any preset
// parameter. An absent network_kind defaults to "mainnet".
func Load(env string) (*NodeConfig, error) {
	_ = godotenv.Load() // optional local .env for development; absence is not an error

	v := viper.New()
	v.SetConfigName("default")
	v.AddConfigPath("cmd/config")
	v.AddConfigPath("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: load default: %w", err)
	}
	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", env, err)
		}
	}

	v.SetEnvPrefix("bt2c")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	kind := core.NetworkKind(fc.NetworkKind)
	if kind == "" {
		kind = core.NetworkMainnet
	}
	params, err := core.ParamsForKind(kind)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	nc := &NodeConfig{
		Params:            params,
		ListenAddr:        fc.ListenAddr,
		BootstrapPeers:    fc.BootstrapPeers,
		DiscoveryTag:      fc.DiscoveryTag,
		DataDir:           fc.DataDir,
		LogLevel:          fc.LogLevel,
		ValidatorMnemonic: fc.ValidatorMnemonic,
		ValidatorAccount:  fc.ValidatorAccount,
	}
	if nc.ListenAddr == "" {
		nc.ListenAddr = "/ip4/0.0.0.0/tcp/4001"
	}
	if nc.DiscoveryTag == "" {
		nc.DiscoveryTag = "bt2c"
	}
	if nc.DataDir == "" {
		nc.DataDir = "./data"
	}
	if nc.LogLevel == "" {
		nc.LogLevel = "info"
	}

	AppConfig = *nc
	return nc, nil
}
