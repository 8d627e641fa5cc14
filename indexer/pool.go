package indexer

import (
	"context"
	"sync/atomic"

	"amm-indexer/database"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Pool indexes the pairs a factory created since the last run with a fixed
// number of workers fed from one bounded queue.
type Pool struct {
	params  Params
	chain   ChainReader
	store   Store
	fetcher *PairFetcher
	tokens  *TokenResolver
	metrics *Metrics

	dispatched    atomic.Int64
	indexed       atomic.Int64
	skipped       atomic.Int64
	refreshed     atomic.Int64
	refreshFailed atomic.Int64

	skipLedgerFailed atomic.Int64
}

type Option func(*Pool)

func WithMetrics(m *Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

func NewPool(params Params, chainReader ChainReader, store Store, opts ...Option) (*Pool, error) {
	params.setDefaults()

	p := &Pool{
		params:  params,
		chain:   chainReader,
		store:   store,
		fetcher: NewPairFetcher(chainReader),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}

	tokens, err := NewTokenResolver(chainReader, params.TokenCacheSize, p.metrics)
	if err != nil {
		return nil, err
	}
	p.tokens = tokens

	return p, nil
}

// run holds the rows every task of one run refers to.
type run struct {
	factory   common.Address
	factoryID uint64
	blockID   uint64
	height    uint64
}

type plan struct {
	repair  []uint64
	start   uint64
	end     uint64
	refresh []database.IndexedPair
}

func (pl *plan) empty() bool {
	return len(pl.repair) == 0 && pl.start >= pl.end && len(pl.refresh) == 0
}

// Run indexes pair numbers from the checkpoint up to the factory's current
// pair count, after re-dispatching previously skipped pairs when enabled.
// Pairs indexed by earlier runs get a reserve snapshot at the run's block.
// It returns once all workers have exited. On cancellation workers finish
// the task they hold and ctx.Err() is returned.
func (p *Pool) Run(ctx context.Context) (Summary, error) {
	p.resetCounters()

	r, pl, err := p.setup(ctx)
	if err != nil {
		return Summary{}, err
	}

	if pl.empty() {
		zlog.Info("No new pairs for factory %s at block %d", r.factory.Hex(), r.height)
		return p.summary(r), nil
	}

	zlog.Info(
		"Indexing pairs %d to %d of factory %s at block %d with %d workers (%d to repair, %d to refresh)",
		pl.start, pl.end, r.factory.Hex(), r.height, p.params.Workers, len(pl.repair), len(pl.refresh),
	)

	queue := make(chan Task, p.params.Workers)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.params.Workers; i++ {
		g.Go(func() error {
			wctx, cancel := context.WithCancel(gctx)
			defer cancel()

			p.work(wctx, r, queue)
			return nil
		})
	}

	p.produce(gctx, pl, queue)

	err = g.Wait()
	summary := p.summary(r)

	zlog.Info(
		"Finished at block %d: %d dispatched, %d indexed, %d skipped, %d refreshed",
		summary.BlockHeight, summary.Dispatched, summary.Indexed, summary.Skipped, summary.Refreshed,
	)

	if err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}

func (p *Pool) setup(ctx context.Context) (*run, *plan, error) {
	height, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return nil, nil, &SetupError{Step: "head block number", Err: err}
	}

	block, err := p.chain.BlockByNumber(ctx, height)
	if err != nil {
		return nil, nil, &SetupError{Step: "head block", Err: err}
	}

	blockID, err := p.store.InsertBlock(ctx, block.Height, block.Hash)
	if err != nil {
		return nil, nil, &SetupError{Step: "insert block", Err: err}
	}

	factoryID, err := p.store.UpsertFactory(ctx, p.params.Factory)
	if err != nil {
		return nil, nil, &SetupError{Step: "upsert factory", Err: err}
	}

	checkpoint, err := p.store.MaxIndexedPairNumber(ctx, factoryID)
	if err != nil {
		return nil, nil, &SetupError{Step: "checkpoint", Err: err}
	}

	length, err := p.chain.AllPairsLength(ctx, p.params.Factory)
	if err != nil {
		return nil, nil, &SetupError{Step: "pairs length", Err: err}
	}

	pl := &plan{start: uint64(checkpoint + 1), end: length}

	if p.params.RepairSkipped {
		skipped, err := p.store.SkippedPairNumbers(ctx, factoryID)
		if err != nil {
			return nil, nil, &SetupError{Step: "skipped pairs", Err: err}
		}
		for _, n := range skipped {
			// numbers at or above the checkpoint are covered by the range
			if n < pl.start {
				pl.repair = append(pl.repair, n)
			}
		}
	}

	// every pair persisted by an earlier run gets a snapshot at this block
	pl.refresh, err = p.store.PairsWithoutReserveAt(ctx, factoryID, blockID)
	if err != nil {
		return nil, nil, &SetupError{Step: "pairs to refresh", Err: err}
	}

	r := &run{
		factory:   p.params.Factory,
		factoryID: factoryID,
		blockID:   blockID,
		height:    block.Height,
	}
	return r, pl, nil
}

// produce feeds the queue in ascending pair order and closes it when done
// or when ctx is cancelled. Tasks still in the queue at cancellation are
// dropped, they all have higher numbers than any task already taken.
func (p *Pool) produce(ctx context.Context, pl *plan, queue chan<- Task) {
	defer close(queue)

	push := func(t Task) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case queue <- t:
			return true
		}
	}

	for _, n := range pl.repair {
		if !push(Task{Kind: TaskRepair, Number: n}) {
			return
		}
	}
	for n := pl.start; n < pl.end; n++ {
		if !push(Task{Kind: TaskIndex, Number: n}) {
			return
		}
	}
	for _, ip := range pl.refresh {
		t := Task{
			Kind:        TaskRefresh,
			Number:      ip.Number,
			PairID:      ip.ID,
			PairAddress: common.HexToAddress(ip.Address),
		}
		if !push(t) {
			return
		}
	}
}

func (p *Pool) resetCounters() {
	p.dispatched.Store(0)
	p.indexed.Store(0)
	p.skipped.Store(0)
	p.refreshed.Store(0)
	p.refreshFailed.Store(0)
	p.skipLedgerFailed.Store(0)
}

func (p *Pool) summary(r *run) Summary {
	return Summary{
		BlockHeight:   r.height,
		Dispatched:    p.dispatched.Load(),
		Indexed:       p.indexed.Load(),
		Skipped:       p.skipped.Load(),
		Refreshed:     p.refreshed.Load(),
		RefreshFailed: p.refreshFailed.Load(),

		SkipLedgerFailed: p.skipLedgerFailed.Load(),
	}
}
