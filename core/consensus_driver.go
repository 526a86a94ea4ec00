package core

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// IncomingBlock is a block received from the Network adapter awaiting
// processing by the driver.
type IncomingBlock struct {
	Block     Block
	Signature []byte
}

// Driver is the single cooperative loop per node: it owns every
// authoritative state transition and is the only goroutine that mutates
// Store, Mempool, or the Validator Registry directly. Worker-pool
// goroutines (signature verification, Merkle computation, Store/Network
// I/O) return results to the driver over these channels rather than
// mutating state themselves.
type Driver struct {
	c       *Context
	sm      *StateMachine
	mempool *Mempool
	reg     *ValidatorRegistry
	applier *Applier
	prod    *Producer

	genesisAt time.Time

	incomingBlocks chan IncomingBlock
	incomingTxs    chan Transaction
	stop           chan struct{}
	stopped        chan struct{}

	// ioSem is sized from DriverConfig.IOConcurrency; no driver method
	// acquires it, so it does not limit any I/O.
	ioSem *semaphore.Weighted
}

// DriverConfig bundles the construction-time parameters the Driver needs
// beyond its collaborators.
type DriverConfig struct {
	GenesisAt    time.Time
	QueueDepth   int
	IOConcurrency int64
}

// NewDriver constructs a Driver. A zero QueueDepth/IOConcurrency in cfg
// falls back to sane defaults.
func NewDriver(c *Context, sm *StateMachine, mempool *Mempool, reg *ValidatorRegistry, applier *Applier, prod *Producer, cfg DriverConfig) *Driver {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	ioConcurrency := cfg.IOConcurrency
	if ioConcurrency <= 0 {
		ioConcurrency = 8
	}
	return &Driver{
		c:              c,
		sm:             sm,
		mempool:        mempool,
		reg:            reg,
		applier:        applier,
		prod:           prod,
		genesisAt:      cfg.GenesisAt,
		incomingBlocks: make(chan IncomingBlock, depth),
		incomingTxs:    make(chan Transaction, depth),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
		ioSem:          semaphore.NewWeighted(ioConcurrency),
	}
}

// SubmitBlock enqueues a block received from the Network adapter for
// processing on the driver's next tick. It never blocks the caller beyond
// the channel's buffer; a full queue drops the block and logs a warning.
// A dropped block is not requested again.
func (d *Driver) SubmitBlock(b Block, sig []byte) {
	select {
	case d.incomingBlocks <- IncomingBlock{Block: b, Signature: sig}:
	default:
		d.c.Log.Warn("driver: incoming block queue full, dropping")
	}
}

// SubmitTx enqueues a transaction received from the Network adapter or a
// local client for mempool admission.
func (d *Driver) SubmitTx(tx Transaction) {
	select {
	case d.incomingTxs <- tx:
	default:
		d.c.Log.Warn("driver: incoming tx queue full, dropping")
	}
}

// Run executes the cooperative loop until Stop is called or ctx is
// cancelled. It wakes every Tick, processing queued blocks and transactions,
// the unstake queue, and the producer slot in that order, and runs mempool
// expiry, evidence processing and unjailing every 60s.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.stopped)

	ticker := time.NewTicker(d.c.Params.Tick)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(60 * time.Second)
	defer sweepTicker.Stop()

	var nextSlotAt time.Time

	for {
		select {
		case <-ctx.Done():
			return d.drainAndStop()
		case <-d.stop:
			return d.drainAndStop()

		case ib := <-d.incomingBlocks:
			d.handleIncomingBlock(ctx, ib)

		case tx := <-d.incomingTxs:
			d.handleIncomingTx(tx)

		case <-sweepTicker.C:
			d.runPeriodicSweep(time.Now())

		case now := <-ticker.C:
			d.drainQueues(ctx)
			d.processUnstakeQueue(now)
			if nextSlotAt.IsZero() {
				nextSlotAt = now
			}
			if now.After(nextSlotAt) || now.Equal(nextSlotAt) {
				nextSlotAt = d.maybeProduceBlock(ctx, now, nextSlotAt)
			}
		}
	}
}

// drainQueues processes any already-queued blocks/txs without blocking,
// taking a queued block before a queued transaction each round. Run calls
// it before the unstake queue and the producer slot.
func (d *Driver) drainQueues(ctx context.Context) {
	for {
		select {
		case ib := <-d.incomingBlocks:
			d.handleIncomingBlock(ctx, ib)
			continue
		default:
		}
		select {
		case tx := <-d.incomingTxs:
			d.handleIncomingTx(tx)
			continue
		default:
		}
		return
	}
}

func (d *Driver) handleIncomingBlock(ctx context.Context, ib IncomingBlock) {
	g, _ := errgroup.WithContext(ctx)
	resultCh := make(chan error, 1)
	g.Go(func() error {
		_, err := d.applier.ApplyIncoming(ib.Block, ib.Signature)
		resultCh <- err
		return nil
	})
	_ = g.Wait()
	if err := <-resultCh; err != nil {
		d.c.Log.WithError(err).WithField("height", ib.Block.Height).Warn("block rejected")
	}
}

func (d *Driver) handleIncomingTx(tx Transaction) {
	if err := d.mempool.Admit(tx, time.Now()); err != nil {
		d.c.Log.WithError(err).WithField("hash", tx.Hash.Hex()).Debug("tx not admitted")
	}
}

func (d *Driver) runPeriodicSweep(now time.Time) {
	removed := d.mempool.Expire(now)
	if removed > 0 {
		d.c.Log.WithField("removed", removed).Debug("mempool expiry sweep")
	}
	d.processEvidence(now)
}

func (d *Driver) processEvidence(now time.Time) {
	for _, ev := range d.c.Store.Evidence() {
		if ev.Processed {
			continue
		}
		v, exists := d.c.Store.GetValidator(ev.Validator)
		if !exists {
			continue
		}
		slashed, err := d.reg.Slash(v, ev.Kind, now)
		if err != nil {
			continue
		}
		ev.Processed = true
		_ = d.c.Store.Commit(&Batch{Validators: []Validator{slashed}, EvidenceAdds: []Evidence{ev}})
	}
	for _, v := range d.c.Store.ListValidators() {
		if updated, changed := d.reg.Unjail(v, now); changed {
			_ = d.c.Store.Commit(&Batch{Validators: []Validator{updated}})
		}
	}
}

func (d *Driver) processUnstakeQueue(now time.Time) {
	toProcess, released := d.reg.ProcessUnstakeQueue(now)
	if len(toProcess) == 0 {
		return
	}
	var accounts []Account
	for addr, amount := range released {
		acc := d.c.Store.GetAccount(addr)
		newBal, err := acc.Balance.Add(amount)
		if err != nil {
			continue
		}
		acc.Balance = newBal
		accounts = append(accounts, acc)
	}
	if err := d.c.Store.Commit(&Batch{UnstakeSets: toProcess, Accounts: accounts}); err != nil {
		d.c.Log.WithError(err).Warn("failed to commit unstake queue processing")
	}
}

// maybeProduceBlock produces a block if this node is selected for the next
// height, enforcing PRODUCTION_DEADLINE: if the deadline is missed the slot
// is skipped and an unavailability strike is recorded, with the Selector
// re-run for the same height on the next tick.
func (d *Driver) maybeProduceBlock(ctx context.Context, now, slotAt time.Time) time.Time {
	head, err := d.c.Store.Head()
	if err != nil {
		return slotAt.Add(d.c.Params.BlockTime)
	}
	if d.c.Self == nil {
		return slotAt.Add(d.c.Params.BlockTime)
	}
	expected, err := SelectProducer(head.Height+1, head.Hash, d.c.Store.ListValidators())
	if err != nil || expected != d.c.Self.Address {
		return slotAt.Add(d.c.Params.BlockTime)
	}

	deadline := now.Add(d.c.Params.ProductionDeadline)
	produceCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type produceResult struct {
		signed *SignedBlock
		err    error
	}
	resultCh := make(chan produceResult, 1)
	go func() {
		sb, err := d.prod.Produce(&head, d.genesisAt, time.Now())
		resultCh <- produceResult{signed: sb, err: err}
	}()

	select {
	case <-produceCtx.Done():
		d.recordMissedSlot(head.Height+1, now)
		return slotAt // re-run selector for the same height next tick
	case res := <-resultCh:
		if res.err != nil {
			d.c.Log.WithError(res.err).Warn("block production failed")
			return slotAt
		}
		if _, err := d.applier.ApplyIncoming(res.signed.Block, res.signed.Signature); err != nil {
			d.c.Log.WithError(err).Warn("self-produced block rejected")
			return slotAt
		}
		return now.Add(d.c.Params.BlockTime)
	}
}

func (d *Driver) recordMissedSlot(height uint64, now time.Time) {
	if d.c.Self == nil {
		return
	}
	v, exists := d.c.Store.GetValidator(d.c.Self.Address)
	if !exists {
		return
	}
	slashed, err := d.reg.Slash(v, EvidenceUnavailability, now)
	if err != nil {
		return
	}
	_ = d.c.Store.Commit(&Batch{Validators: []Validator{slashed}})
	d.c.Log.WithField("height", height).Warn("missed production deadline, accrued unavailability strike")
}

// Stop requests cooperative shutdown: the driver drains its queues, commits
// any in-flight batch, then returns from Run.
func (d *Driver) Stop() {
	close(d.stop)
	<-d.stopped
}

func (d *Driver) drainAndStop() error {
	d.drainQueues(context.Background())
	if err := d.c.Store.Snapshot(); err != nil {
		d.c.Log.WithError(err).Warn("final snapshot on shutdown failed")
	}
	return nil
}
