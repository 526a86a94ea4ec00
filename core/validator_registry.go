package core

import (
	"time"
)

// ValidatorRegistry tracks validator records, the unstake queue, and
// reputation, applying the stake/unstake/slash/jail state machine described
// by the Validator lifecycle diagram. It reads and writes through Store, the
// single authoritative home for validator records.
type ValidatorRegistry struct {
	c *Context
}

// NewValidatorRegistry constructs a registry bound to c.
func NewValidatorRegistry(c *Context) *ValidatorRegistry { return &ValidatorRegistry{c: c} }

// Register transitions the validator at addr to ACTIVE if initialStake
// meets MIN_STAKE. Distribution-period bonuses (developer/early-validator)
// are the caller's responsibility to issue as reward transactions before
// calling Register; this method only manages the validator record itself.
func (r *ValidatorRegistry) Register(addr Address, initialStake Amount, now time.Time) Validator {
	v, exists := r.c.Store.GetValidator(addr)
	if !exists {
		v = Validator{Address: addr, JoinedAt: now, Status: ValidatorInactive}
	}
	v.Stake = initialStake
	if v.Stake.Cmp(r.c.Params.MinStake) >= 0 {
		v.Status = ValidatorActive
	}
	r.c.Log.WithField("validator", addr.Hex()).WithField("stake", v.Stake.String()).Info("validator registered")
	return v
}

// RecordBlock increments reputation and total_blocks and updates
// last_block_at for the validator that just produced a block.
func (r *ValidatorRegistry) RecordBlock(v Validator, now time.Time) Validator {
	v.Reputation++
	v.TotalBlocks++
	v.LastBlockAt = now
	return v
}

// RequestUnstake enqueues a FIFO UnstakeEntry for amount against the
// validator at addr. The caller is responsible for persisting the returned
// entry; this method only validates and constructs it.
func (r *ValidatorRegistry) RequestUnstake(addr Address, amount Amount, now time.Time) (UnstakeEntry, error) {
	v, exists := r.c.Store.GetValidator(addr)
	if !exists {
		return UnstakeEntry{}, NewError(CategoryMalformed, "validator_registry: unknown validator")
	}
	if v.Stake.Cmp(amount) < 0 {
		return UnstakeEntry{}, NewError(CategoryInsufficient, "validator_registry: unstake amount exceeds stake")
	}
	queue := r.c.Store.UnstakeQueue()
	return UnstakeEntry{
		Validator:     addr,
		Amount:        amount,
		RequestedAt:   now,
		QueuePosition: uint64(len(queue)) + 1,
		Status:        UnstakePending,
	}, nil
}

// ProcessUnstakeQueue drains pending entries at a rate that keeps cumulative
// processed amount within UnstakeQueueDailyBP basis points of total network
// stake per rolling 24h window. It returns the entries to mark processed (in
// FIFO order) and the total amount released per validator address; the
// caller turns these into account/validator updates and commits them.
func (r *ValidatorRegistry) ProcessUnstakeQueue(now time.Time) ([]UnstakeEntry, map[Address]Amount) {
	queue := r.c.Store.UnstakeQueue()
	totalStake := r.c.Store.TotalStake()
	dailyCap, err := totalStake.MulFraction(r.c.Params.UnstakeQueueDailyBP, 10_000)
	if err != nil {
		dailyCap = AmountZero
	}

	processedToday := r.processedWithin(queue, now, 24*time.Hour)

	var toProcess []UnstakeEntry
	released := make(map[Address]Amount)
	for _, e := range queue {
		if e.Status != UnstakePending {
			continue
		}
		candidate, err := processedToday.Add(e.Amount)
		if err != nil {
			break
		}
		if candidate.Cmp(dailyCap) > 0 {
			break
		}
		processedToday = candidate
		e.Status = UnstakeProcessed
		toProcess = append(toProcess, e)
		sum, err := released[e.Validator].Add(e.Amount)
		if err == nil {
			released[e.Validator] = sum
		} else {
			released[e.Validator] = e.Amount
		}
	}
	return toProcess, released
}

func (r *ValidatorRegistry) processedWithin(queue []UnstakeEntry, now time.Time, window time.Duration) Amount {
	total := AmountZero
	for _, e := range queue {
		if e.Status == UnstakeProcessed && now.Sub(e.RequestedAt) <= window {
			if sum, err := total.Add(e.Amount); err == nil {
				total = sum
			}
		}
	}
	return total
}

// Slash applies the penalty for evidence kind: double_sign removes
// DoubleSignPenaltyBP of stake and resets reputation to zero; unavailability
// removes UnavailabilityPenaltyBP and jails the validator for JailSeconds.
// If the resulting stake drops below MIN_STAKE, status becomes INACTIVE
// (unless already JAILED, which takes precedence while the jail window
// runs). A second double_sign within TombstoneWindow tombstones the
// validator permanently.
func (r *ValidatorRegistry) Slash(v Validator, kind EvidenceKind, now time.Time) (Validator, error) {
	if v.Status == ValidatorTombstoned {
		return v, NewError(CategoryConflict, "validator_registry: validator already tombstoned")
	}

	var penaltyBP int64
	switch kind {
	case EvidenceDoubleSign:
		penaltyBP = r.c.Params.DoubleSignPenaltyBP
	case EvidenceUnavailability:
		penaltyBP = r.c.Params.UnavailabilityPenaltyBP
	default:
		return v, NewError(CategoryMalformed, "validator_registry: unknown evidence kind")
	}

	penalty, err := v.Stake.MulFraction(penaltyBP, 10_000)
	if err != nil {
		return v, WrapError(CategoryFatal, "validator_registry: penalty overflow", err)
	}
	remaining, err := v.Stake.Sub(penalty)
	if err != nil || remaining.IsNegative() {
		remaining = AmountZero
	}
	v.Stake = remaining

	switch kind {
	case EvidenceDoubleSign:
		v.Reputation = 0
		if !v.LastDoubleSignAt.IsZero() && now.Sub(v.LastDoubleSignAt) <= r.c.Params.TombstoneWindow {
			v.DoubleSignCount++
		} else {
			v.DoubleSignCount = 1
		}
		v.LastDoubleSignAt = now
		if v.DoubleSignCount >= 2 {
			v.Status = ValidatorTombstoned
			r.c.Log.WithField("validator", v.Address.Hex()).Warn("validator tombstoned for repeated double-signing")
			return v, nil
		}
	case EvidenceUnavailability:
		v.Status = ValidatorJailed
		v.JailedUntil = now.Add(time.Duration(r.c.Params.JailSeconds) * time.Second)
	}

	if v.Stake.Cmp(r.c.Params.MinStake) < 0 && v.Status != ValidatorJailed {
		v.Status = ValidatorInactive
	}

	r.c.Log.WithFields(map[string]interface{}{
		"validator": v.Address.Hex(),
		"kind":      kind.String(),
		"slashed":   penalty.String(),
		"status":    v.Status.String(),
	}).Warn("validator slashed")

	return v, nil
}

// Unjail moves a JAILED validator back to ACTIVE once its jail window has
// elapsed and its stake still meets MIN_STAKE.
func (r *ValidatorRegistry) Unjail(v Validator, now time.Time) (Validator, bool) {
	if v.Status != ValidatorJailed {
		return v, false
	}
	if now.Before(v.JailedUntil) {
		return v, false
	}
	if v.Stake.Cmp(r.c.Params.MinStake) < 0 {
		v.Status = ValidatorInactive
		return v, true
	}
	v.Status = ValidatorActive
	return v, true
}
