package core

import "time"

// NetworkKind selects which baked-in constant preset a NetworkParams uses.
// This collapses what would otherwise be a BT2CBaseConfig/ProductionConfig/
// TestnetConfig inheritance chain into one tagged record.
type NetworkKind string

const (
	NetworkMainnet NetworkKind = "mainnet"
	NetworkTestnet NetworkKind = "testnet"
	NetworkDevnet  NetworkKind = "devnet"
)

// NetworkParams holds every consensus constant the core depends on. Exactly
// one instance exists per running node, constructed once at startup and
// threaded through the Context — never read from package-level globals.
type NetworkParams struct {
	Kind NetworkKind

	ChainID string

	BlockTime       time.Duration
	HalvingSeconds  int64
	InitialReward   Amount
	MinReward       Amount
	MaxSupply       Amount
	MinStake        Amount
	BaseFee         Amount
	DeveloperReward Amount
	EarlyValidator  Amount

	DistributionDuration time.Duration
	JailSeconds          int64
	TombstoneWindow       time.Duration

	DoubleSignPenaltyBP   int64 // basis points (10_000 = 100%)
	UnavailabilityPenaltyBP int64

	FinalityConfirmations uint64
	MaxReorgDepth         uint64
	ProductionDeadline    time.Duration

	MaxBlockBytes       int
	MempoolEntryTTL     time.Duration
	MempoolExpirySweep  time.Duration
	UnstakeQueueDailyBP int64 // basis points of total stake processed per day

	FutureTimestampSkew time.Duration
	StaleTimestampWindow time.Duration

	PeerRateLimitPerMin int
	PeerRPCTimeout      time.Duration
	PeerRPCMaxRetries   int

	Tick time.Duration
}

// MainnetParams returns the production preset.
func MainnetParams() NetworkParams {
	return NetworkParams{
		Kind:                    NetworkMainnet,
		ChainID:                 "bt2c-mainnet-1",
		BlockTime:               300 * time.Second,
		HalvingSeconds:          126_144_000, // 4 years
		InitialReward:           NewAmountFromWhole(21),
		MinReward:               NewAmountFromMantissa(1), // 10^-8
		MaxSupply:               NewAmountFromWhole(21_000_000),
		MinStake:                NewAmountFromWhole(1),
		BaseFee:                 NewAmountFromMantissa(10_000), // 10^-4
		DeveloperReward:         NewAmountFromWhole(1000),
		EarlyValidator:          NewAmountFromWhole(1),
		DistributionDuration:    14 * 24 * time.Hour,
		JailSeconds:             86_400,
		TombstoneWindow:         7 * 24 * time.Hour,
		DoubleSignPenaltyBP:     5_000,
		UnavailabilityPenaltyBP: 1_000,
		FinalityConfirmations:   6,
		MaxReorgDepth:           100,
		ProductionDeadline:      30 * time.Second,
		MaxBlockBytes:           2 << 20, // 2 MiB
		MempoolEntryTTL:         24 * time.Hour,
		MempoolExpirySweep:      60 * time.Second,
		UnstakeQueueDailyBP:     100, // 1%
		FutureTimestampSkew:     300 * time.Second,
		StaleTimestampWindow:    24 * time.Hour,
		PeerRateLimitPerMin:     100,
		PeerRPCTimeout:          5 * time.Second,
		PeerRPCMaxRetries:       3,
		Tick:                    1 * time.Second,
	}
}

// TestnetParams returns the testnet preset: same economics, faster blocks.
func TestnetParams() NetworkParams {
	p := MainnetParams()
	p.Kind = NetworkTestnet
	p.ChainID = "bt2c-testnet-1"
	p.BlockTime = 60 * time.Second
	return p
}

// DevnetParams returns the devnet preset: fast blocks, short distribution
// window, suitable for a single-machine multi-node bring-up.
func DevnetParams() NetworkParams {
	p := MainnetParams()
	p.Kind = NetworkDevnet
	p.ChainID = "bt2c-devnet-1"
	p.BlockTime = 5 * time.Second
	p.DistributionDuration = 1 * time.Hour
	return p
}

// ParamsForKind returns the baked-in preset for a NetworkKind.
func ParamsForKind(kind NetworkKind) (NetworkParams, error) {
	switch kind {
	case NetworkMainnet:
		return MainnetParams(), nil
	case NetworkTestnet:
		return TestnetParams(), nil
	case NetworkDevnet:
		return DevnetParams(), nil
	default:
		return NetworkParams{}, NewError(CategoryMalformed, "unknown network_kind: "+string(kind))
	}
}
