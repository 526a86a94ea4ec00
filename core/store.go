package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TxRecord is a committed transaction plus its block placement, the value
// stored under transactions_by_hash.
type TxRecord struct {
	Tx        Transaction
	BlockHash Hash
	Position  int
}

// nonceKey identifies a (sender, nonce) pair in the replay-protection table.
// It implements encoding.TextMarshaler/TextUnmarshaler so it can be used
// directly as a JSON object key in the snapshot image.
type nonceKey struct {
	Sender Address
	Nonce  uint64
}

func (k nonceKey) MarshalText() ([]byte, error) {
	return []byte(k.Sender.Hex() + ":" + strconv.FormatUint(k.Nonce, 10)), nil
}

func (k *nonceKey) UnmarshalText(text []byte) error {
	addrHex, nonceStr, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("store: malformed nonce key %q", text)
	}
	addr, err := ParseAddress(addrHex)
	if err != nil {
		return fmt.Errorf("store: malformed nonce key address: %w", err)
	}
	nonce, err := strconv.ParseUint(nonceStr, 10, 64)
	if err != nil {
		return fmt.Errorf("store: malformed nonce key value: %w", err)
	}
	k.Sender = addr
	k.Nonce = nonce
	return nil
}

// Batch collects every write produced by applying one block, so Store can
// make them all visible atomically: either the whole batch commits, or none
// of it does.
type Batch struct {
	Block        *Block
	Transactions []TxRecord
	Accounts     []Account
	Validators   []Validator
	Nonces       []nonceKey
	UnstakeAdds  []UnstakeEntry
	UnstakeSets  []UnstakeEntry // updates to existing entries, matched by (Validator, QueuePosition)
	EvidenceAdds []Evidence
}

// walEntry is the JSON-serializable form of a Batch persisted to the
// write-ahead log, replayed on startup.
type walEntry struct {
	Block        *Block
	Transactions []TxRecord
	Accounts     []Account
	Validators   []Validator
	Nonces       []nonceKey
	UnstakeAdds  []UnstakeEntry
	UnstakeSets  []UnstakeEntry
	EvidenceAdds []Evidence
}

// Store is the durable collaborator: an append-only write-ahead log plus a
// periodic JSON snapshot, replayed on startup. Single-writer through Commit;
// concurrent readers see a consistent in-memory snapshot guarded by a
// RWMutex, matching the "Store: single-writer through the driver; concurrent
// readers permitted" resource model.
type Store struct {
	mu sync.RWMutex

	dir          string
	walFile      *os.File
	snapshotPath string

	blocksByHeight map[uint64]Block
	blocksByHash   map[Hash]Block
	txByHash       map[Hash]TxRecord
	accounts       map[Address]Account
	validators     map[Address]Validator
	nonces         map[nonceKey]time.Time
	unstakeQueue   []UnstakeEntry
	evidence       []Evidence

	commitsSinceSnapshot int
	snapshotEvery        int

	log *logrus.Entry
}

type snapshotImage struct {
	BlocksByHeight map[uint64]Block
	BlocksByHash   map[Hash]Block
	TxByHash       map[Hash]TxRecord
	Accounts       map[Address]Account
	Validators     map[Address]Validator
	Nonces         map[nonceKey]time.Time
	UnstakeQueue   []UnstakeEntry
	Evidence       []Evidence
}

// OpenStore opens (creating if absent) the store rooted at dir, replaying
// its snapshot then its write-ahead log. dir must contain (or will contain)
// "store.snap" and "store.wal".
func OpenStore(dir string, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Store{
		dir:            dir,
		snapshotPath:   filepath.Join(dir, "store.snap"),
		blocksByHeight: make(map[uint64]Block),
		blocksByHash:   make(map[Hash]Block),
		txByHash:       make(map[Hash]TxRecord),
		accounts:       make(map[Address]Account),
		validators:     make(map[Address]Validator),
		nonces:         make(map[nonceKey]time.Time),
		snapshotEvery:  1000,
		log:            log.WithField("component", "store"),
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}

	walPath := filepath.Join(dir, "store.wal")
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}
	s.walFile = wal

	if err := s.replayWAL(); err != nil {
		_ = wal.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open snapshot: %w", err)
	}
	defer f.Close()

	var img snapshotImage
	if err := json.NewDecoder(f).Decode(&img); err != nil {
		return fmt.Errorf("store: decode snapshot: %w", err)
	}
	if img.BlocksByHeight != nil {
		s.blocksByHeight = img.BlocksByHeight
	}
	if img.BlocksByHash != nil {
		s.blocksByHash = img.BlocksByHash
	}
	if img.TxByHash != nil {
		s.txByHash = img.TxByHash
	}
	if img.Accounts != nil {
		s.accounts = img.Accounts
	}
	if img.Validators != nil {
		s.validators = img.Validators
	}
	if img.Nonces != nil {
		s.nonces = img.Nonces
	}
	s.unstakeQueue = img.UnstakeQueue
	s.evidence = img.Evidence
	s.log.WithField("heights", len(s.blocksByHeight)).Info("loaded snapshot")
	return nil
}

func (s *Store) replayWAL() error {
	if _, err := s.walFile.Seek(0, 0); err != nil {
		return fmt.Errorf("store: seek wal: %w", err)
	}
	scanner := bufio.NewScanner(s.walFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	replayed := 0
	for scanner.Scan() {
		var entry walEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("store: wal unmarshal: %w", err)
		}
		s.applyEntry(&entry)
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("store: wal scan: %w", err)
	}
	if _, err := s.walFile.Seek(0, 2); err != nil {
		return fmt.Errorf("store: seek wal end: %w", err)
	}
	if replayed > 0 {
		s.log.WithField("entries", replayed).Info("replayed wal")
	}
	return nil
}

func (s *Store) applyEntry(e *walEntry) {
	if e.Block != nil {
		s.blocksByHeight[e.Block.Height] = *e.Block
		s.blocksByHash[e.Block.Hash] = *e.Block
	}
	for _, tr := range e.Transactions {
		s.txByHash[tr.Tx.Hash] = tr
	}
	for _, a := range e.Accounts {
		s.accounts[a.Address] = a
	}
	for _, v := range e.Validators {
		s.validators[v.Address] = v
	}
	for _, nk := range e.Nonces {
		s.nonces[nk] = time.Now()
	}
	s.unstakeQueue = append(s.unstakeQueue, e.UnstakeAdds...)
	for _, upd := range e.UnstakeSets {
		for i := range s.unstakeQueue {
			if s.unstakeQueue[i].Validator == upd.Validator && s.unstakeQueue[i].QueuePosition == upd.QueuePosition {
				s.unstakeQueue[i] = upd
				break
			}
		}
	}
	s.evidence = append(s.evidence, e.EvidenceAdds...)
}

// Commit applies batch atomically: it is first appended to the write-ahead
// log (and fsynced), then applied to the in-memory tables under the write
// lock. A failure to append leaves the in-memory state untouched.
func (s *Store) Commit(batch *Batch) error {
	entry := walEntry{
		Block:        batch.Block,
		Transactions: batch.Transactions,
		Accounts:     batch.Accounts,
		Validators:   batch.Validators,
		Nonces:       batch.Nonces,
		UnstakeAdds:  batch.UnstakeAdds,
		UnstakeSets:  batch.UnstakeSets,
		EvidenceAdds: batch.EvidenceAdds,
	}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return WrapError(CategoryFatal, "store: marshal batch", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.walFile.Write(append(raw, '\n')); err != nil {
		return WrapError(CategoryTransientIO, "store: append wal", err)
	}
	if err := s.walFile.Sync(); err != nil {
		return WrapError(CategoryTransientIO, "store: sync wal", err)
	}

	s.applyEntry(&entry)
	s.commitsSinceSnapshot++
	if s.commitsSinceSnapshot >= s.snapshotEvery {
		if err := s.snapshotLocked(); err != nil {
			s.log.WithError(err).Warn("snapshot failed")
		}
	}
	return nil
}

// Snapshot forces an immediate snapshot write and truncates the WAL,
// matching the teacher's periodic-snapshot-plus-prune pattern generalized
// to this schema.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() error {
	img := snapshotImage{
		BlocksByHeight: s.blocksByHeight,
		BlocksByHash:   s.blocksByHash,
		TxByHash:       s.txByHash,
		Accounts:       s.accounts,
		Validators:     s.validators,
		Nonces:         s.nonces,
		UnstakeQueue:   s.unstakeQueue,
		Evidence:       s.evidence,
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("store: create snapshot: %w", err)
	}
	if err := json.NewEncoder(f).Encode(&img); err != nil {
		f.Close()
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("store: sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store: close snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return fmt.Errorf("store: rename snapshot: %w", err)
	}

	if err := s.walFile.Truncate(0); err != nil {
		return fmt.Errorf("store: truncate wal: %w", err)
	}
	if _, err := s.walFile.Seek(0, 0); err != nil {
		return fmt.Errorf("store: seek wal: %w", err)
	}
	s.commitsSinceSnapshot = 0
	s.log.Info("snapshot written")
	return nil
}

// Close flushes a final snapshot and closes the WAL file.
func (s *Store) Close() error {
	if err := s.Snapshot(); err != nil {
		s.log.WithError(err).Warn("final snapshot failed")
	}
	return s.walFile.Close()
}

// GetBlockByHeight returns the block at h, or ErrNotFound.
func (s *Store) GetBlockByHeight(h uint64) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocksByHeight[h]
	if !ok {
		return Block{}, ErrNotFound
	}
	return b, nil
}

// GetBlockByHash returns the block with the given hash, or ErrNotFound.
func (s *Store) GetBlockByHash(h Hash) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocksByHash[h]
	if !ok {
		return Block{}, ErrNotFound
	}
	return b, nil
}

// Head returns the highest committed block, or ErrNotFound if the store is
// empty (before genesis).
func (s *Store) Head() (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocksByHeight) == 0 {
		return Block{}, ErrNotFound
	}
	var head Block
	found := false
	for _, b := range s.blocksByHeight {
		if !found || b.Height > head.Height {
			head = b
			found = true
		}
	}
	return head, nil
}

// GetTransaction returns the committed transaction record for hash, or
// ErrNotFound.
func (s *Store) GetTransaction(hash Hash) (TxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.txByHash[hash]
	if !ok {
		return TxRecord{}, ErrNotFound
	}
	return tr, nil
}

// GetAccount returns the account at addr, or the zero-value Account with
// NextNonce 0 if it has never been credited (accounts are created lazily).
func (s *Store) GetAccount(addr Address) Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.accounts[addr]; ok {
		return a
	}
	return Account{Address: addr}
}

// GetValidator returns the validator at addr and whether a record exists.
func (s *Store) GetValidator(addr Address) (Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.validators[addr]
	return v, ok
}

// ListValidators returns a snapshot copy of every known validator record.
func (s *Store) ListValidators() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Validator, 0, len(s.validators))
	for _, v := range s.validators {
		out = append(out, v)
	}
	return out
}

// HasNonce reports whether (sender, nonce) has been observed within the
// retained replay-protection window.
func (s *Store) HasNonce(sender Address, nonce uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nonces[nonceKey{Sender: sender, Nonce: nonce}]
	return ok
}

// UnstakeQueue returns a snapshot copy of the full unstake queue in FIFO
// order.
func (s *Store) UnstakeQueue() []UnstakeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UnstakeEntry, len(s.unstakeQueue))
	copy(out, s.unstakeQueue)
	return out
}

// Evidence returns a snapshot copy of the append-only evidence log.
func (s *Store) Evidence() []Evidence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Evidence, len(s.evidence))
	copy(out, s.evidence)
	return out
}

// TotalStake sums stake across every validator record, used by the unstake
// queue's daily-rate-limit calculation.
func (s *Store) TotalStake() Amount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := AmountZero
	for _, v := range s.validators {
		if sum, err := total.Add(v.Stake); err == nil {
			total = sum
		}
	}
	return total
}
