package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"

	"bt2c.network/node/cmd/config"
	"bt2c.network/node/core"
)

func main() {
	root := &cobra.Command{Use: "bt2cnode", Short: "BT2C standalone proof-of-stake node"}
	root.PersistentFlags().String("env", "", "environment config to merge over default.yaml (e.g. devnet)")
	root.AddCommand(startCmd(), keygenCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	return logrus.NewEntry(log)
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the node: open the store, join the network, and run the consensus driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			return runNode(env)
		},
	}
	return cmd
}

func runNode(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("bt2cnode: load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	store, err := core.OpenStore(cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("bt2cnode: open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self, err := loadOrCreateIdentity(cfg, log)
	if err != nil {
		return fmt.Errorf("bt2cnode: load validator identity: %w", err)
	}

	c := core.NewContext(ctx, cfg.Params, store, log, self)

	if _, err := store.Head(); err != nil {
		log.Info("no head block found, seeding genesis")
		genesis, err := core.BuildGenesisBlock(&cfg.Params, self.Address, time.Now(), nil)
		if err != nil {
			return fmt.Errorf("bt2cnode: build genesis: %w", err)
		}
		sm := core.NewStateMachine(c)
		diff, err := sm.ApplyBlock(genesis)
		if err != nil {
			return fmt.Errorf("bt2cnode: apply genesis: %w", err)
		}
		if err := sm.Commit(diff); err != nil {
			return fmt.Errorf("bt2cnode: commit genesis: %w", err)
		}
	}

	sm := core.NewStateMachine(c)
	mempool := core.NewMempool(c)
	reg := core.NewValidatorRegistry(c)
	producer := core.NewProducer(c, mempool)
	forks := core.NewForkManager()
	applier := core.NewApplier(c, sm, mempool, reg, forks)

	head, err := store.Head()
	if err != nil {
		return fmt.Errorf("bt2cnode: read head: %w", err)
	}

	driver := core.NewDriver(c, sm, mempool, reg, applier, producer, core.DriverConfig{GenesisAt: head.Timestamp})

	net, err := core.NewNetwork(c, driver, core.NetConfig{
		ListenAddr:     cfg.ListenAddr,
		BootstrapPeers: cfg.BootstrapPeers,
		DiscoveryTag:   cfg.DiscoveryTag,
	})
	if err != nil {
		return fmt.Errorf("bt2cnode: start network: %w", err)
	}
	defer net.Close()

	log.WithFields(logrus.Fields{
		"network_kind": cfg.Params.Kind,
		"chain_id":     cfg.Params.ChainID,
		"validator":    self.Address.Hex(),
	}).Info("bt2cnode starting")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		driver.Stop()
		cancel()
	}()

	if err := driver.Run(ctx); err != nil {
		return fmt.Errorf("bt2cnode: driver exited: %w", err)
	}
	return nil
}

// loadOrCreateIdentity derives the node's validator keypair from the
// configured mnemonic, generating and persisting a fresh devnet mnemonic
// when none is configured.
func loadOrCreateIdentity(cfg *config.NodeConfig, log *logrus.Entry) (*core.KeyPair, error) {
	mnemonic := cfg.ValidatorMnemonic
	if mnemonic == "" {
		path := filepath.Join(cfg.DataDir, "validator.mnemonic")
		if data, err := os.ReadFile(path); err == nil {
			mnemonic = string(data)
		} else {
			generated, err := core.NewDevMnemonic()
			if err != nil {
				return nil, err
			}
			mnemonic = generated
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(mnemonic), 0o600); err != nil {
				return nil, err
			}
			log.WithField("path", path).Warn("generated new validator mnemonic; back this up")
		}
	}
	return core.DeterministicKeyFromMnemonic(mnemonic, cfg.ValidatorAccount)
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a fresh BIP-39 validator mnemonic and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			mnemonic, err := core.NewDevMnemonic()
			if err != nil {
				return err
			}
			kp, err := core.DeterministicKeyFromMnemonic(mnemonic, 0)
			if err != nil {
				return err
			}
			fmt.Printf("mnemonic: %s\naddress:  %s\n", mnemonic, kp.Address.Hex())
			return nil
		},
	}
	return cmd
}
