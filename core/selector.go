package core

import (
	"encoding/binary"
	"math/big"
	"sort"
)

// weightOf computes w(v) = stake(v) * 2^floor(reputation(v)/10), capped so
// the reputation multiplier never exceeds 8x, bounding high-reputation
// dominance.
func weightOf(v Validator) *big.Int {
	shift := v.Reputation / 10
	if shift > 3 {
		shift = 3 // 2^3 = 8, the multiplier cap
	}
	stake := big.NewInt(v.Stake.Mantissa())
	return new(big.Int).Lsh(stake, uint(shift))
}

// SelectProducer deterministically picks the block producer for height h
// given seed (the hash of the previous block) over the ACTIVE subset of
// validators. Every node evaluating the same (h, seed, validator set)
// derives the same result.
func SelectProducer(h uint64, seed Hash, validators []Validator) (Address, error) {
	active := make([]Validator, 0, len(validators))
	for _, v := range validators {
		if v.Status == ValidatorActive {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return Address{}, NewError(CategoryFatal, "selector: no active validators")
	}

	sort.Slice(active, func(i, j int) bool { return active[i].Address.Hex() < active[j].Address.Hex() })

	total := new(big.Int)
	weights := make([]*big.Int, len(active))
	for i, v := range active {
		w := weightOf(v)
		weights[i] = w
		total.Add(total, w)
	}
	if total.Sign() == 0 {
		return Address{}, NewError(CategoryFatal, "selector: total weight is zero")
	}

	var hBuf [8]byte
	binary.BigEndian.PutUint64(hBuf[:], h)
	digestInput := append(append([]byte{}, seed[:]...), hBuf[:]...)
	digest := Sum256(digestInput)
	r := new(big.Int).Mod(new(big.Int).SetBytes(digest[:]), total)

	running := new(big.Int)
	for i, v := range active {
		running.Add(running, weights[i])
		if running.Cmp(r) > 0 {
			return v.Address, nil
		}
	}
	// Unreachable for a correct weight sum, but fall back to the last
	// validator in canonical order rather than returning a zero address.
	return active[len(active)-1].Address, nil
}
