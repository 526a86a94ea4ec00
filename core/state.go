package core

// Diff is the set of writes produced by speculatively applying a block,
// returned by ApplyBlock without being committed. Commit turns a Diff into a
// Store Batch.
type Diff struct {
	Block          Block
	AccountDeltas  map[Address]Account
	ValidatorDeltas map[Address]Validator
	NoncesSeen     []nonceKey
	TxRecords      []TxRecord
	NewUnstakes    []UnstakeEntry
}

// ApplyError is the typed error returned by ApplyBlock/tx application.
type ApplyError = CoreError

// StateMachine transitions (state, block) -> state', or rejects with a typed
// error. It owns no mutable authoritative state itself beyond a view over
// Store; the Diff produced by ApplyBlock is the only in-flight mutation.
type StateMachine struct {
	c *Context
}

// NewStateMachine constructs a StateMachine bound to c's Store and Params.
func NewStateMachine(c *Context) *StateMachine { return &StateMachine{c: c} }

// GetBalance returns the current committed balance for addr.
func (sm *StateMachine) GetBalance(addr Address) Amount { return sm.c.Store.GetAccount(addr).Balance }

// GetStake returns the current committed stake for addr.
func (sm *StateMachine) GetStake(addr Address) Amount { return sm.c.Store.GetAccount(addr).Staked }

// GetNextNonce returns the next nonce the sender at addr must use.
func (sm *StateMachine) GetNextNonce(addr Address) uint64 {
	return sm.c.Store.GetAccount(addr).NextNonce
}

// applyScope accumulates account/validator mutations for one block
// application, read-through to Store for anything not yet touched in this
// scope, so multiple transactions in the same block see each other's
// effects before commit.
type applyScope struct {
	sm         *StateMachine
	accounts   map[Address]Account
	validators map[Address]Validator
	nonces     []nonceKey
	unstakes   []UnstakeEntry
	queueLen   uint64
}

func newApplyScope(sm *StateMachine) *applyScope {
	return &applyScope{
		sm:         sm,
		accounts:   make(map[Address]Account),
		validators: make(map[Address]Validator),
		queueLen:   uint64(len(sm.c.Store.UnstakeQueue())),
	}
}

func (s *applyScope) account(addr Address) Account {
	if a, ok := s.accounts[addr]; ok {
		return a
	}
	a := s.sm.c.Store.GetAccount(addr)
	s.accounts[addr] = a
	return a
}

func (s *applyScope) validator(addr Address) (Validator, bool) {
	if v, ok := s.validators[addr]; ok {
		return v, true
	}
	v, ok := s.sm.c.Store.GetValidator(addr)
	if ok {
		s.validators[addr] = v
	}
	return v, ok
}

// ApplyBlock validates header, verifies each transaction, and computes the
// resulting Diff without committing it. Callers that accept the result call
// Commit; callers that reject it (e.g. a losing fork-choice branch) simply
// discard it.
func (sm *StateMachine) ApplyBlock(block *Block) (*Diff, error) {
	head, err := sm.c.Store.Head()
	hasHead := err == nil
	if err != nil && err != ErrNotFound {
		return nil, WrapError(CategoryTransientIO, "state: read head", err)
	}

	if hasHead {
		if block.PreviousHash != head.Hash {
			return nil, NewError(CategoryMalformed, "state: previous_hash does not match head")
		}
		if block.Height != head.Height+1 {
			return nil, NewError(CategoryMalformed, "state: height is not head+1")
		}
	} else {
		if block.Height != 0 {
			return nil, NewError(CategoryMalformed, "state: first block must be genesis at height 0")
		}
		if !block.PreviousHash.IsZero() {
			return nil, NewError(CategoryMalformed, "state: genesis previous_hash must be zero")
		}
	}

	root, err := ComputeMerkleRootForBlock(block.Transactions)
	if err != nil {
		return nil, WrapError(CategoryMalformed, "state: merkle root", err)
	}
	if root != block.MerkleRoot {
		return nil, NewError(CategoryMalformed, "state: merkle_root mismatch")
	}
	if BlockHash(block) != block.Hash {
		return nil, NewError(CategoryMalformed, "state: block hash mismatch")
	}

	scope := newApplyScope(sm)
	var records []TxRecord
	var totalFees Amount

	for i := range block.Transactions {
		tx := block.Transactions[i]
		if err := sm.applyTx(scope, &tx, block.Validator); err != nil {
			return nil, err
		}
		records = append(records, TxRecord{Tx: tx, BlockHash: block.Hash, Position: i})
		if tx.Kind != TxReward && tx.Kind != TxGenesis {
			sum, err := totalFees.Add(tx.Fee)
			if err != nil {
				return nil, WrapError(CategoryFatal, "state: fee overflow", err)
			}
			totalFees = sum
		}
	}

	expectedReward := BlockReward(&sm.c.Params, block.Height)
	if block.Reward.Cmp(expectedReward) != 0 {
		return nil, NewError(CategoryMalformed, "state: reward does not match halving schedule")
	}
	creditedToValidator, err := totalFees.Add(expectedReward)
	if err != nil {
		return nil, WrapError(CategoryFatal, "state: reward+fee overflow", err)
	}
	_ = creditedToValidator // producer credit is carried by an explicit reward tx in block.Transactions

	diff := &Diff{
		Block:           *block,
		AccountDeltas:   scope.accounts,
		ValidatorDeltas: scope.validators,
		NoncesSeen:      scope.nonces,
		TxRecords:       records,
		NewUnstakes:     scope.unstakes,
	}
	return diff, nil
}

// applyTx dispatches on tx.Kind with an exhaustive switch — a tagged variant
// over transaction kinds rather than a runtime type hierarchy.
func (sm *StateMachine) applyTx(scope *applyScope, tx *Transaction, blockValidator Address) error {
	switch tx.Kind {
	case TxTransfer:
		return sm.applyTransfer(scope, tx, blockValidator)
	case TxStake:
		return sm.applyStake(scope, tx, blockValidator)
	case TxUnstake:
		return sm.applyUnstake(scope, tx)
	case TxReward, TxGenesis:
		return sm.applySystemCredit(scope, tx)
	default:
		return NewError(CategoryMalformed, "state: unknown transaction kind")
	}
}

func (sm *StateMachine) checkCommon(scope *applyScope, tx *Transaction) error {
	if TxHash(tx) != tx.Hash {
		return NewError(CategoryMalformed, "state: tx hash mismatch")
	}
	ok, err := Verify(tx.Sender, tx.Hash, tx.Signature)
	if err != nil || !ok {
		return NewError(CategoryMalformed, "state: bad signature")
	}
	sender := scope.account(tx.Sender)
	if tx.Nonce != sender.NextNonce {
		return NewError(CategoryReplay, "state: nonce is not the expected next nonce")
	}
	key := nonceKey{Sender: tx.Sender, Nonce: tx.Nonce}
	if sm.hasNonceInScope(scope, key) {
		return NewError(CategoryReplay, "state: nonce already used")
	}
	return nil
}

func (sm *StateMachine) hasNonceInScope(scope *applyScope, key nonceKey) bool {
	for _, k := range scope.nonces {
		if k == key {
			return true
		}
	}
	return sm.c.Store.HasNonce(key.Sender, key.Nonce)
}

func (sm *StateMachine) applyTransfer(scope *applyScope, tx *Transaction, blockValidator Address) error {
	if err := sm.checkCommon(scope, tx); err != nil {
		return err
	}
	if tx.Amount.IsZero() || tx.Amount.IsNegative() {
		return NewError(CategoryMalformed, "state: transfer amount must be > 0")
	}
	sender := scope.account(tx.Sender)
	cost, err := tx.Amount.Add(tx.Fee)
	if err != nil {
		return WrapError(CategoryFatal, "state: amount+fee overflow", err)
	}
	if sender.Balance.Cmp(cost) < 0 {
		return NewError(CategoryInsufficient, "state: balance below amount+fee")
	}
	newSenderBal, err := sender.Balance.Sub(cost)
	if err != nil {
		return WrapError(CategoryFatal, "state: debit overflow", err)
	}
	sender.Balance = newSenderBal
	sender.NextNonce = tx.Nonce + 1
	scope.accounts[tx.Sender] = sender

	recipient := scope.account(tx.Recipient)
	newRecipientBal, err := recipient.Balance.Add(tx.Amount)
	if err != nil {
		return WrapError(CategoryFatal, "state: credit overflow", err)
	}
	recipient.Balance = newRecipientBal
	scope.accounts[tx.Recipient] = recipient

	validatorAcc := scope.account(blockValidator)
	newValBal, err := validatorAcc.Balance.Add(tx.Fee)
	if err != nil {
		return WrapError(CategoryFatal, "state: fee credit overflow", err)
	}
	validatorAcc.Balance = newValBal
	scope.accounts[blockValidator] = validatorAcc

	scope.nonces = append(scope.nonces, nonceKey{Sender: tx.Sender, Nonce: tx.Nonce})
	return nil
}

func (sm *StateMachine) applyStake(scope *applyScope, tx *Transaction, blockValidator Address) error {
	if err := sm.checkCommon(scope, tx); err != nil {
		return err
	}
	if tx.Amount.IsNegative() {
		return NewError(CategoryMalformed, "state: stake amount must be >= 0")
	}
	sender := scope.account(tx.Sender)
	cost, err := tx.Amount.Add(tx.Fee)
	if err != nil {
		return WrapError(CategoryFatal, "state: amount+fee overflow", err)
	}
	if sender.Balance.Cmp(cost) < 0 {
		return NewError(CategoryInsufficient, "state: balance below amount+fee")
	}
	newBal, err := sender.Balance.Sub(cost)
	if err != nil {
		return WrapError(CategoryFatal, "state: debit overflow", err)
	}
	sender.Balance = newBal
	newStaked, err := sender.Staked.Add(tx.Amount)
	if err != nil {
		return WrapError(CategoryFatal, "state: stake credit overflow", err)
	}
	sender.Staked = newStaked
	sender.NextNonce = tx.Nonce + 1
	scope.accounts[tx.Sender] = sender

	validatorAcc := scope.account(blockValidator)
	newValBal, err := validatorAcc.Balance.Add(tx.Fee)
	if err != nil {
		return WrapError(CategoryFatal, "state: fee credit overflow", err)
	}
	validatorAcc.Balance = newValBal
	scope.accounts[blockValidator] = validatorAcc

	v, exists := scope.validator(tx.Sender)
	if !exists {
		v = Validator{Address: tx.Sender, Status: ValidatorInactive, JoinedAt: tx.Timestamp}
	}
	v.Stake = sender.Staked
	if v.Stake.Cmp(sm.c.Params.MinStake) >= 0 {
		v.Status = ValidatorActive
	}
	scope.validators[tx.Sender] = v

	scope.nonces = append(scope.nonces, nonceKey{Sender: tx.Sender, Nonce: tx.Nonce})
	return nil
}

func (sm *StateMachine) applyUnstake(scope *applyScope, tx *Transaction) error {
	if err := sm.checkCommon(scope, tx); err != nil {
		return err
	}
	v, exists := scope.validator(tx.Sender)
	if !exists {
		return NewError(CategoryMalformed, "state: unstake from unknown validator")
	}
	if v.Stake.Cmp(tx.Amount) < 0 {
		return NewError(CategoryInsufficient, "state: unstake amount exceeds stake")
	}
	sender := scope.account(tx.Sender)
	sender.NextNonce = tx.Nonce + 1
	scope.accounts[tx.Sender] = sender

	scope.queueLen++
	entry := UnstakeEntry{
		Validator:     tx.Sender,
		Amount:        tx.Amount,
		RequestedAt:   tx.Timestamp,
		QueuePosition: scope.queueLen,
		Status:        UnstakePending,
	}
	scope.unstakes = append(scope.unstakes, entry)

	scope.nonces = append(scope.nonces, nonceKey{Sender: tx.Sender, Nonce: tx.Nonce})
	return nil
}

// payloadAutoStake marks a genesis/reward credit that lands directly in
// staked rather than balance, and activates a validator record if the
// resulting stake meets MIN_STAKE. This is how the one-shot distribution
// bonuses are "automatically staked on receipt": a protocol-level credit,
// not a user-submitted stake transaction requiring a signature.
var payloadAutoStake = []byte("auto_stake")

// applySystemCredit applies reward and genesis transactions: the implicit
// system sender (AddressZero) is exempt from nonce and balance preconditions.
func (sm *StateMachine) applySystemCredit(scope *applyScope, tx *Transaction) error {
	if tx.Sender != AddressZero {
		return NewError(CategoryMalformed, "state: reward/genesis sender must be the system address")
	}
	if tx.Amount.IsNegative() {
		return NewError(CategoryMalformed, "state: credit amount must be >= 0")
	}
	recipient := scope.account(tx.Recipient)

	if string(tx.Payload) == string(payloadAutoStake) {
		newStaked, err := recipient.Staked.Add(tx.Amount)
		if err != nil {
			return WrapError(CategoryFatal, "state: auto-stake overflow", err)
		}
		recipient.Staked = newStaked
		scope.accounts[tx.Recipient] = recipient

		v, exists := scope.validator(tx.Recipient)
		if !exists {
			v = Validator{Address: tx.Recipient, Status: ValidatorInactive, JoinedAt: tx.Timestamp}
		}
		v.Stake = recipient.Staked
		if v.Stake.Cmp(sm.c.Params.MinStake) >= 0 {
			v.Status = ValidatorActive
		}
		scope.validators[tx.Recipient] = v
		return nil
	}

	newBal, err := recipient.Balance.Add(tx.Amount)
	if err != nil {
		return WrapError(CategoryFatal, "state: credit overflow", err)
	}
	recipient.Balance = newBal
	scope.accounts[tx.Recipient] = recipient
	return nil
}

// Commit persists diff via Store in one atomic batch. It does not detect a
// diff that was already committed: committing one again rewrites the same
// records and appends its unstake entries a second time. ApplyBlock's
// previous_hash/height checks reject a block that does not extend the head.
func (sm *StateMachine) Commit(diff *Diff) error {
	batch := &Batch{
		Block:        &diff.Block,
		Transactions: diff.TxRecords,
		Nonces:       diff.NoncesSeen,
		UnstakeAdds:  diff.NewUnstakes,
	}
	for _, a := range diff.AccountDeltas {
		batch.Accounts = append(batch.Accounts, a)
	}
	for _, v := range diff.ValidatorDeltas {
		batch.Validators = append(batch.Validators, v)
	}
	return sm.c.Store.Commit(batch)
}
