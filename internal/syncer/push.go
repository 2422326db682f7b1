package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
)

type PushReport struct {
	Skipped        bool     `json:"skipped,omitempty"`
	Attempted      int      `json:"attempted"`
	Batches        int      `json:"batches"`
	Synced         int      `json:"synced"`
	Rejected       int      `json:"rejected"`
	Unacknowledged int      `json:"unacknowledged"`
	RejectedIDs    []string `json:"rejected_ids,omitempty"`
	NetworkError   string   `json:"network_error,omitempty"`
}

// Push submits every pending transaction in creation order.
func (e *Engine) Push(ctx context.Context) (report PushReport, err error) {
	if !e.exclusive(func() { report, err = e.push(ctx) }) {
		return PushReport{Skipped: true}, nil
	}
	return report, err
}

func (e *Engine) push(ctx context.Context) (PushReport, error) {
	var report PushReport

	pending, err := e.store.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncPending}})
	if err != nil {
		return report, fmt.Errorf("list pending: %w", err)
	}

	for start := 0; start < len(pending); start += e.opts.PushBatchSize {
		end := min(start+e.opts.PushBatchSize, len(pending))
		batch := pending[start:end]

		stop, err := e.pushBatch(ctx, batch, &report)
		if err != nil {
			return report, err
		}
		if stop {
			break
		}
	}
	return report, nil
}

// pushBatch submits one batch. stop is true when the server is unreachable
// and the remaining batches should wait for the next cycle.
func (e *Engine) pushBatch(ctx context.Context, batch []domain.Transaction, report *PushReport) (bool, error) {
	ids := make([]string, 0, len(batch))
	for _, tx := range batch {
		ids = append(ids, tx.ClientID)
	}

	req := domain.PushRequest{StoreID: e.opts.StoreID, DeviceID: e.opts.DeviceID, Transactions: batch}
	res, err := remote.CallWithRefresh(ctx, e.refresher, func(ctx context.Context) remote.Result[domain.PushResponse] {
		return e.api.Push(ctx, req)
	})
	if err != nil {
		return true, err
	}

	report.Batches++
	report.Attempted += len(batch)
	if err := e.store.RecordAttempt(ctx, ids); err != nil {
		return true, fmt.Errorf("record attempt: %w", err)
	}

	switch res.Kind {
	case remote.NetworkError:
		e.logger.Warn("push unavailable, batch left pending", zap.Int("size", len(batch)), zap.Error(res.Err))
		report.NetworkError = res.Error()
		report.Unacknowledged += len(batch)
		return true, nil
	case remote.Rejected:
		// The request as a whole was refused; per-item outcomes are unknown.
		e.logger.Warn("push batch refused", zap.String("code", res.Code), zap.String("message", res.Message))
		report.NetworkError = res.Error()
		report.Unacknowledged += len(batch)
		return true, nil
	case remote.AuthError:
		return true, remote.ErrReauthRequired
	}

	seen := make(map[string]struct{}, len(batch))
	for _, accepted := range res.Value.Synced {
		seen[accepted.ClientID] = struct{}{}
		if err := e.store.MarkSynced(ctx, accepted); err != nil {
			if errors.Is(err, localstore.ErrNotFound) || errors.Is(err, localstore.ErrIllegalTransition) {
				e.logger.Warn("skip acceptance", zap.String("client_id", accepted.ClientID), zap.Error(err))
				continue
			}
			return true, fmt.Errorf("mark synced %s: %w", accepted.ClientID, err)
		}
		report.Synced++
	}
	for _, rejected := range res.Value.Rejected {
		seen[rejected.ClientID] = struct{}{}
		if err := e.store.MarkRejected(ctx, rejected.ClientID, rejected.Rejection()); err != nil {
			if errors.Is(err, localstore.ErrNotFound) || errors.Is(err, localstore.ErrIllegalTransition) {
				e.logger.Warn("skip rejection", zap.String("client_id", rejected.ClientID), zap.Error(err))
				continue
			}
			return true, fmt.Errorf("mark rejected %s: %w", rejected.ClientID, err)
		}
		e.logger.Info("transaction rejected",
			zap.String("client_id", rejected.ClientID),
			zap.String("reason", rejected.Reason),
		)
		report.Rejected++
		report.RejectedIDs = append(report.RejectedIDs, rejected.ClientID)
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			report.Unacknowledged++
		}
	}
	return false, nil
}
