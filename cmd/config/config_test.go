package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"bt2c.network/node/core"
)

func chdirBack(t *testing.T, wd string) {
	t.Helper()
	if err := os.Chdir(wd); err != nil {
		t.Fatalf("chdir back failed: %v", err)
	}
}

func TestLoadDefaultIsMainnet(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer chdirBack(t, wd)
	viper.Reset()

	if err := os.Chdir(filepath.Join(wd, "..", "..")); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Params.Kind != core.NetworkMainnet {
		t.Fatalf("expected mainnet, got %s", cfg.Params.Kind)
	}
	if cfg.Params.BlockTime != core.MainnetParams().BlockTime {
		t.Fatalf("expected mainnet block time, got %v", cfg.Params.BlockTime)
	}
}

func TestLoadMergesEnvOverride(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer chdirBack(t, wd)
	viper.Reset()

	if err := os.Chdir(filepath.Join(wd, "..", "..")); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("devnet")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Params.Kind != core.NetworkDevnet {
		t.Fatalf("expected devnet, got %s", cfg.Params.Kind)
	}
	if cfg.DiscoveryTag != "bt2c-devnet" {
		t.Fatalf("expected overridden discovery tag, got %s", cfg.DiscoveryTag)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected overridden log level, got %s", cfg.LogLevel)
	}
}

func TestLoadFromSandboxDirectory(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer chdirBack(t, wd)
	viper.Reset()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	data := []byte("network_kind: testnet\nlisten_addr: /ip4/127.0.0.1/tcp/5001\n")
	if err := os.WriteFile(filepath.Join(dir, "config", "default.yaml"), data, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Params.Kind != core.NetworkTestnet {
		t.Fatalf("expected testnet, got %s", cfg.Params.Kind)
	}
	if cfg.ListenAddr != "/ip4/127.0.0.1/tcp/5001" {
		t.Fatalf("expected overridden listen addr, got %s", cfg.ListenAddr)
	}
}
