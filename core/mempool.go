package core

import (
	"sort"
	"sync"
	"time"
)

// pendingTx is one admitted-but-unsealed transaction plus its admission
// time, used for expiry.
type pendingTx struct {
	tx        Transaction
	admittedAt time.Time
}

// Mempool holds admitted-but-unsealed transactions, deduplicated by nonce
// and hash, with per-sender pending-balance caps and staleness expiry.
// Guarded by a single mutex per the concurrency model; critical sections
// are O(log N) and the selection step operates on a shallow copy.
type Mempool struct {
	c *Context

	mu      sync.Mutex
	byHash  map[Hash]*pendingTx
	bySender map[Address]map[uint64]*pendingTx
}

// NewMempool constructs an empty Mempool bound to c.
func NewMempool(c *Context) *Mempool {
	return &Mempool{
		c:        c,
		byHash:   make(map[Hash]*pendingTx),
		bySender: make(map[Address]map[uint64]*pendingTx),
	}
}

// Admit validates tx against the admission pipeline and, if accepted, adds
// it to the pending set. Re-admitting an already-admitted transaction
// (identical hash) is idempotent: it returns success without side effect.
func (m *Mempool) Admit(tx Transaction, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[tx.Hash]; ok {
		return nil // idempotent re-admission
	}

	if TxHash(&tx) != tx.Hash {
		return rejectf(ReasonMalformedHash, "tx hash does not match canonical encoding")
	}

	if tx.Kind != TxReward && tx.Kind != TxGenesis {
		ok, err := Verify(tx.Sender, tx.Hash, tx.Signature)
		if err != nil || !ok {
			return rejectf(ReasonBadSignature, "signature does not verify against sender")
		}
	}

	skew := m.c.Params.FutureTimestampSkew
	if tx.Timestamp.After(now.Add(skew)) {
		return rejectf(ReasonFutureTimestamp, "timestamp more than %s in the future", skew)
	}
	stale := m.c.Params.StaleTimestampWindow
	if now.Sub(tx.Timestamp) > stale {
		return rejectf(ReasonStaleTimestamp, "timestamp more than %s old", stale)
	}

	account := m.c.Store.GetAccount(tx.Sender)
	expectedNonce := account.NextNonce + uint64(len(m.bySender[tx.Sender]))
	if tx.Nonce != expectedNonce {
		if existingBySender, ok := m.bySender[tx.Sender]; ok {
			if _, dup := existingBySender[tx.Nonce]; dup {
				return rejectf(ReasonDuplicateInMempool, "sender already has a pending tx at this nonce")
			}
		}
		return rejectf(ReasonReplayedNonce, "nonce %d does not match expected next nonce %d", tx.Nonce, expectedNonce)
	}
	if m.c.Store.HasNonce(tx.Sender, tx.Nonce) {
		return rejectf(ReasonReplayedNonce, "nonce %d already committed for this sender", tx.Nonce)
	}
	if existingBySender, ok := m.bySender[tx.Sender]; ok {
		if _, dup := existingBySender[tx.Nonce]; dup {
			return rejectf(ReasonDuplicateInMempool, "duplicate pending tx at this nonce")
		}
	}

	minFee, err := MinFee(&m.c.Params, len(m.byHash))
	if err != nil {
		return rejectf(ReasonInsufficientFee, "fee schedule computation failed")
	}
	if tx.Fee.Cmp(minFee) < 0 {
		return rejectf(ReasonInsufficientFee, "fee below current minimum %s", minFee)
	}

	cost, err := tx.Amount.Add(tx.Fee)
	if err != nil {
		return rejectf(ReasonInsufficientBalance, "amount+fee overflow")
	}
	if cost.Cmp(account.Balance) > 0 {
		return rejectf(ReasonInsufficientBalance, "balance below amount+fee")
	}
	pendingTotal := cost
	for _, p := range m.bySender[tx.Sender] {
		sum, err := pendingTotal.Add(p.tx.Amount)
		if err == nil {
			pendingTotal = sum
		}
		sum2, err := pendingTotal.Add(p.tx.Fee)
		if err == nil {
			pendingTotal = sum2
		}
	}
	if pendingTotal.Cmp(account.Balance) > 0 {
		return rejectf(ReasonSenderPendingCap, "sum of pending amount+fee would exceed sender balance")
	}

	entry := &pendingTx{tx: tx, admittedAt: now}
	m.byHash[tx.Hash] = entry
	if m.bySender[tx.Sender] == nil {
		m.bySender[tx.Sender] = make(map[uint64]*pendingTx)
	}
	m.bySender[tx.Sender][tx.Nonce] = entry
	return nil
}

// SelectBatch returns pending transactions ordered by descending fee,
// ascending timestamp, then ascending hash, truncated to fit maxBytes of
// canonical encoding.
func (m *Mempool) SelectBatch(maxBytes int) []Transaction {
	m.mu.Lock()
	snapshot := make([]Transaction, 0, len(m.byHash))
	for _, p := range m.byHash {
		snapshot = append(snapshot, p.tx)
	}
	m.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		a, b := snapshot[i], snapshot[j]
		if a.Fee.Cmp(b.Fee) != 0 {
			return a.Fee.Cmp(b.Fee) > 0
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Hash.Hex() < b.Hash.Hex()
	})

	out := make([]Transaction, 0, len(snapshot))
	used := 0
	for _, tx := range snapshot {
		size := len(EncodeTxForHash(&tx)) + len(tx.Signature)
		if used+size > maxBytes {
			break
		}
		used += size
		out = append(out, tx)
	}
	return out
}

// Expire evicts entries admitted more than MempoolEntryTTL before now.
func (m *Mempool) Expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl := m.c.Params.MempoolEntryTTL
	removed := 0
	for hash, p := range m.byHash {
		if now.Sub(p.admittedAt) > ttl {
			m.removeLocked(hash)
			removed++
		}
	}
	return removed
}

// PurgeSealed removes every transaction in block from the pending set, e.g.
// right after that block commits.
func (m *Mempool) PurgeSealed(block *Block) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range block.Transactions {
		m.removeLocked(block.Transactions[i].Hash)
	}
}

func (m *Mempool) removeLocked(hash Hash) {
	p, ok := m.byHash[hash]
	if !ok {
		return
	}
	delete(m.byHash, hash)
	if bySender, ok := m.bySender[p.tx.Sender]; ok {
		delete(bySender, p.tx.Nonce)
		if len(bySender) == 0 {
			delete(m.bySender, p.tx.Sender)
		}
	}
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}
