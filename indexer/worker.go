package indexer

import (
	"context"
	"fmt"

	"amm-indexer/boff"
	"amm-indexer/database"
	"amm-indexer/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
)

// work takes tasks until the queue is closed or ctx is cancelled. Failures
// of a task stay with the task, they never stop the worker.
func (p *Pool) work(ctx context.Context, r *run, queue <-chan Task) {
	for {
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case task, ok := <-queue:
			if !ok {
				return
			}
			p.dispatched.Add(1)
			p.process(ctx, r, task)
		}
	}
}

// process runs a task to completion. A taken task is not interrupted by
// cancellation: its transaction commits or rolls back and its retries run
// out before the worker exits.
func (p *Pool) process(ctx context.Context, r *run, task Task) {
	tctx := context.WithoutCancel(ctx)
	log := zlog.With("kind", task.Kind.String(), "pair", task.Number)

	switch task.Kind {
	case TaskRefresh:
		p.refresh(tctx, r, task, log)
	default:
		p.index(tctx, r, task, log)
	}
}

func (p *Pool) index(ctx context.Context, r *run, task Task, log *logger.PackageLogger) {
	name := fmt.Sprintf("%s pair %d", task.Kind, task.Number)

	_, err := boff.RetryConstant(
		ctx,
		func() (struct{}, error) {
			p.metrics.TaskAttempts.WithLabelValues(task.Kind.String()).Inc()

			err := p.indexOnce(ctx, r, task)
			if errors.Is(err, database.ErrPairExists) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
		name,
		p.params.RetryAttempts,
		p.params.RetryDelay,
	)

	switch {
	case err == nil:
		p.indexed.Add(1)
		p.metrics.PairsIndexed.Inc()
		log.Debug("Indexed pair")

	case errors.Is(err, database.ErrPairExists):
		log.Debug("Pair already indexed")
		p.clearSkipped(ctx, r, task, log)

	default:
		err = fmt.Errorf("%s: %w: %w", name, ErrTaskExhausted, err)
		log.Error("%v", err)

		p.skipped.Add(1)
		p.metrics.PairsSkipped.Inc()

		if recErr := p.store.RecordSkippedPair(ctx, r.factoryID, task.Number, r.blockID, err.Error()); recErr != nil {
			p.ledgerFailed(log, "record", recErr)
		}
	}
}

// indexOnce is one attempt at persisting a pair. The pair and its reserve
// are written in one transaction.
func (p *Pool) indexOnce(ctx context.Context, r *run, task Task) error {
	pairAddress, info, err := p.fetcher.Fetch(ctx, r.factory, task.Number)
	if err != nil {
		return err
	}

	var resolved ResolvedTokens
	err = p.store.InTx(ctx, func(tx StoreTx) error {
		var err error
		resolved, err = p.tokens.Resolve(ctx, tx, info.Token0, info.Token1)
		if err != nil {
			return err
		}

		pairID, err := tx.InsertPair(r.factoryID, task.Number, pairAddress, resolved.Token0, resolved.Token1)
		if err != nil {
			return err
		}

		if err := tx.InsertReserve(pairID, r.blockID, info.Reserve0, info.Reserve1); err != nil {
			return err
		}

		return tx.ClearSkippedPair(r.factoryID, task.Number)
	})
	if err != nil {
		return err
	}

	p.tokens.Remember(resolved)
	return nil
}

func (p *Pool) clearSkipped(ctx context.Context, r *run, task Task, log *logger.PackageLogger) {
	if task.Kind != TaskRepair {
		return
	}

	err := p.store.InTx(ctx, func(tx StoreTx) error {
		return tx.ClearSkippedPair(r.factoryID, task.Number)
	})
	if err != nil {
		p.ledgerFailed(log, "clear", err)
	}
}

// ledgerFailed counts a skipped-pair marker that could not be written or
// removed. Without its marker a skipped pair is not repaired by later runs.
func (p *Pool) ledgerFailed(log *logger.PackageLogger, op string, err error) {
	p.skipLedgerFailed.Add(1)
	p.metrics.SkipLedgerErrors.WithLabelValues(op).Inc()
	log.Error("Could not %s skipped pair marker: %v", op, err)
}

// refresh appends a reserve snapshot at the run's block for a pair indexed
// by an earlier run. Failures are counted and logged only.
func (p *Pool) refresh(ctx context.Context, r *run, task Task, log *logger.PackageLogger) {
	name := fmt.Sprintf("refresh pair %d", task.Number)

	_, err := boff.RetryConstant(
		ctx,
		func() (struct{}, error) {
			p.metrics.TaskAttempts.WithLabelValues(task.Kind.String()).Inc()

			info, err := p.chain.PairInfo(ctx, task.PairAddress)
			if err != nil {
				return struct{}{}, err
			}

			return struct{}{}, p.store.InTx(ctx, func(tx StoreTx) error {
				return tx.InsertReserve(task.PairID, r.blockID, info.Reserve0, info.Reserve1)
			})
		},
		name,
		p.params.RetryAttempts,
		p.params.RetryDelay,
	)
	if err != nil {
		p.refreshFailed.Add(1)
		log.Error("%s: %v", name, err)
		return
	}

	p.refreshed.Add(1)
	p.metrics.ReservesRefreshed.Inc()
}
