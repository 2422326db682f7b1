package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/remote"
)

type ShiftOpReport struct {
	Skipped      bool   `json:"skipped,omitempty"`
	Attempted    int    `json:"attempted"`
	Synced       int    `json:"synced"`
	Failed       int    `json:"failed"`
	Waiting      int    `json:"waiting"`
	NetworkError string `json:"network_error,omitempty"`
}

// DrainShiftOps submits pending shift opens and closes. A close waits until
// the open of the same shift has reached the server. Failed ops stay put
// until an operator retries them.
func (e *Engine) DrainShiftOps(ctx context.Context) (report ShiftOpReport, err error) {
	if !e.exclusive(func() { report, err = e.drainShiftOps(ctx) }) {
		return ShiftOpReport{Skipped: true}, nil
	}
	return report, err
}

func (e *Engine) drainShiftOps(ctx context.Context) (ShiftOpReport, error) {
	var report ShiftOpReport

	all, err := e.store.ListShiftOps(ctx)
	if err != nil {
		return report, fmt.Errorf("list shift ops: %w", err)
	}
	opened := make(map[string]bool, len(all))
	for _, op := range all {
		if op.Op == domain.ShiftOpOpen {
			opened[op.ShiftLocalID] = op.SyncStatus == domain.SyncSynced
		}
	}

	for _, op := range all {
		if op.SyncStatus != domain.SyncPending {
			continue
		}
		if op.Op == domain.ShiftOpClose {
			if done, queued := opened[op.ShiftLocalID]; queued && !done {
				report.Waiting++
				continue
			}
		}

		res, err := remote.CallWithRefresh(ctx, e.refresher, func(ctx context.Context) remote.Result[domain.Shift] {
			if op.Op == domain.ShiftOpOpen {
				return e.api.OpenShift(ctx, op.Snapshot)
			}
			return e.api.CloseShift(ctx, op.Snapshot)
		})
		if err != nil {
			return report, err
		}
		report.Attempted++

		switch res.Kind {
		case remote.Accepted:
			if err := e.store.MarkShiftOp(ctx, op.ID, domain.SyncSynced, ""); err != nil {
				return report, fmt.Errorf("mark shift op %s: %w", op.ID, err)
			}
			if err := e.store.MarkShiftSynced(ctx, op.ShiftLocalID, res.Value.ServerID); err != nil {
				return report, fmt.Errorf("mark shift %s synced: %w", op.ShiftLocalID, err)
			}
			if op.Op == domain.ShiftOpOpen {
				opened[op.ShiftLocalID] = true
			}
			report.Synced++
		case remote.Rejected:
			e.logger.Warn("shift op rejected",
				zap.String("shift", op.ShiftLocalID),
				zap.String("op", op.Op),
				zap.String("code", res.Code),
			)
			if err := e.store.MarkShiftOp(ctx, op.ID, domain.SyncFailed, res.Error()); err != nil {
				return report, fmt.Errorf("mark shift op %s: %w", op.ID, err)
			}
			report.Failed++
		case remote.NetworkError:
			e.logger.Warn("shift ops unavailable", zap.Error(res.Err))
			report.NetworkError = res.Error()
			return report, nil
		case remote.AuthError:
			return report, remote.ErrReauthRequired
		}
	}
	return report, nil
}
