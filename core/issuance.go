package core

// BlockReward computes the halving-schedule reward for a block produced at
// height h, given the elapsed wall-clock seconds implied by BLOCK_TIME over
// the blocks already committed before h:
// floor(INITIAL_REWARD * 2^-floor((h-1)*BLOCK_TIME/HALVING_SECONDS)),
// clamped to MIN_REWARD. Using h-1 rather than h keeps the last block of a
// halving interval paying the full reward and the first block past it paying
// the halved one, matching blocks_since_start = len(chain)-1 at production
// time. Genesis (h=0) carries no protocol reward.
func BlockReward(p *NetworkParams, h uint64) Amount {
	if h == 0 {
		return AmountZero
	}
	elapsedSeconds := (h - 1) * uint64(p.BlockTime.Seconds())
	halvings := elapsedSeconds / uint64(p.HalvingSeconds)
	reward := p.InitialReward.HalvingDivide(uint(halvings))
	if reward.Cmp(p.MinReward) < 0 {
		return p.MinReward
	}
	return reward
}

// MinFee computes the dynamic minimum fee a transaction must carry to be
// admitted, given the current mempool pending count:
// min_fee = BASE_FEE * (1 + pending_count/100).
func MinFee(p *NetworkParams, pendingCount int) (Amount, error) {
	num := int64(100 + pendingCount)
	return p.BaseFee.MulFraction(num, 100)
}

// WithinDistributionPeriod reports whether t falls within
// DISTRIBUTION_DURATION of genesisAt, during which developer/early-validator
// bonuses are issued.
func WithinDistributionPeriod(p *NetworkParams, genesisAt, t int64) bool {
	return t >= genesisAt && t-genesisAt <= int64(p.DistributionDuration.Seconds())
}
