package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
)

// RetryRejected puts a rejected transaction back in the push queue. Its
// content is left untouched so the next push resubmits it verbatim.
func (e *Engine) RetryRejected(ctx context.Context, clientID string) error {
	tx, err := e.store.GetTransaction(ctx, clientID)
	if err != nil {
		return err
	}
	if tx.SyncStatus != domain.SyncRejected {
		return fmt.Errorf("retry %s in %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
	}
	if err := e.store.Requeue(ctx, clientID, e.now()); err != nil {
		return err
	}
	e.logger.Info("rejected transaction requeued", zap.String("client_id", clientID))
	return nil
}

func (e *Engine) RetryAllRejected(ctx context.Context) (int, error) {
	rejected, err := e.store.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncRejected}})
	if err != nil {
		return 0, err
	}
	for i, tx := range rejected {
		if err := e.store.Requeue(ctx, tx.ClientID, e.now()); err != nil {
			return i, fmt.Errorf("requeue %s: %w", tx.ClientID, err)
		}
	}
	if len(rejected) > 0 {
		e.logger.Info("rejected transactions requeued", zap.Int("count", len(rejected)))
	}
	return len(rejected), nil
}

// RetryShiftOp puts a failed shift op back in the outbox.
func (e *Engine) RetryShiftOp(ctx context.Context, id string) error {
	ops, err := e.store.ListShiftOps(ctx)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.ID != id {
			continue
		}
		if op.SyncStatus != domain.SyncFailed {
			return fmt.Errorf("retry shift op %s in %s: %w", id, op.SyncStatus, localstore.ErrIllegalTransition)
		}
		if err := e.store.MarkShiftOp(ctx, id, domain.SyncPending, ""); err != nil {
			return err
		}
		e.logger.Info("failed shift op requeued", zap.String("op", id), zap.String("shift", op.ShiftLocalID))
		return nil
	}
	return localstore.ErrNotFound
}

// DeleteRejected permanently removes a rejected transaction.
func (e *Engine) DeleteRejected(ctx context.Context, clientID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	if err := e.store.DeleteTransaction(ctx, clientID, domain.SyncRejected); err != nil {
		return err
	}
	e.logger.Warn("rejected transaction deleted", zap.String("client_id", clientID))
	return nil
}

// StalePending lists pending transactions queued before now minus olderThan.
// A zero olderThan uses the configured threshold.
func (e *Engine) StalePending(ctx context.Context, olderThan time.Duration) ([]domain.Transaction, error) {
	if olderThan <= 0 {
		olderThan = e.opts.StaleAfter
	}
	cutoff := e.now().Add(-olderThan)
	return e.store.ListTransactions(ctx, localstore.TxFilter{
		SyncStatuses:   []string{domain.SyncPending},
		EnqueuedBefore: &cutoff,
	})
}

// RequeueStale restamps a stuck pending transaction and resets its attempts.
func (e *Engine) RequeueStale(ctx context.Context, clientID string) error {
	tx, err := e.store.GetTransaction(ctx, clientID)
	if err != nil {
		return err
	}
	if tx.SyncStatus != domain.SyncPending {
		return fmt.Errorf("requeue %s in %s: %w", clientID, tx.SyncStatus, localstore.ErrIllegalTransition)
	}
	return e.store.Requeue(ctx, clientID, e.now())
}

// AbandonPending permanently removes a pending transaction the server never
// acknowledged.
func (e *Engine) AbandonPending(ctx context.Context, clientID string, confirmed bool) error {
	if !confirmed {
		return ErrConfirmationRequired
	}
	if err := e.store.DeleteTransaction(ctx, clientID, domain.SyncPending); err != nil {
		return err
	}
	e.logger.Warn("pending transaction abandoned", zap.String("client_id", clientID))
	return nil
}
