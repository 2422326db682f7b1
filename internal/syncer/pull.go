package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/remote"
)

type PullReport struct {
	Skipped      bool           `json:"skipped,omitempty"`
	Collections  []string       `json:"collections"`
	Since        *time.Time     `json:"since,omitempty"`
	Applied      map[string]int `json:"applied,omitempty"`
	Watermark    *time.Time     `json:"watermark,omitempty"`
	Advanced     bool           `json:"advanced"`
	Rejected     string         `json:"rejected,omitempty"`
	NetworkError string         `json:"network_error,omitempty"`
}

// Pull fetches reference-data deltas for scope and applies them. The
// watermark moves only for a full pull whose every collection applied.
func (e *Engine) Pull(ctx context.Context, scope Scope) (report PullReport, err error) {
	collections := scope.collections()
	if len(collections) == 0 {
		return PullReport{}, fmt.Errorf("scope %q has no reference collections", scope)
	}
	if !e.exclusive(func() { report, err = e.pull(ctx, collections, scope.fullPull()) }) {
		return PullReport{Skipped: true}, nil
	}
	return report, err
}

func (e *Engine) pull(ctx context.Context, collections []string, full bool) (PullReport, error) {
	since, err := e.store.Watermark(ctx)
	if err != nil {
		return PullReport{}, err
	}
	report := PullReport{Collections: collections, Since: since, Watermark: since}

	req := domain.PullRequest{StoreID: e.opts.StoreID, Since: since}
	if !full {
		req.Collections = collections
	}
	res, err := remote.CallWithRefresh(ctx, e.refresher, func(ctx context.Context) remote.Result[domain.PullResponse] {
		return e.api.Pull(ctx, req)
	})
	if err != nil {
		return report, err
	}
	switch res.Kind {
	case remote.NetworkError:
		e.logger.Warn("pull unavailable", zap.Error(res.Err))
		report.NetworkError = res.Error()
		return report, nil
	case remote.Rejected:
		e.logger.Warn("pull rejected", zap.String("code", res.Code), zap.String("message", res.Message))
		report.Rejected = res.Error()
		return report, nil
	case remote.AuthError:
		return report, remote.ErrReauthRequired
	}

	var next *time.Time
	if at := res.Value.LastSyncTimestamp.UTC(); full && !at.IsZero() {
		next = &at
	}
	// Deltas and watermark commit together; re-applying the same deltas after
	// a failure is safe.
	if err := e.store.ApplyPull(ctx, collections, res.Value, next); err != nil {
		e.logger.Error("apply pulled deltas", zap.Error(err))
		return report, fmt.Errorf("apply pull: %w", err)
	}
	report.Applied = appliedCounts(collections, res.Value)
	if next != nil {
		report.Watermark = next
		report.Advanced = true
	}
	return report, nil
}

func appliedCounts(collections []string, resp domain.PullResponse) map[string]int {
	applied := make(map[string]int, len(collections))
	for _, collection := range collections {
		switch collection {
		case domain.CollectionCategories:
			applied[collection] = deltaSize(resp.Categories)
		case domain.CollectionProducts:
			applied[collection] = deltaSize(resp.Products)
		case domain.CollectionStock:
			applied[collection] = deltaSize(resp.Stock)
		case domain.CollectionDiscounts:
			applied[collection] = deltaSize(resp.Discounts)
		}
	}
	return applied
}

func deltaSize[T any](d domain.Delta[T]) int {
	return len(d.Created) + len(d.Updated) + len(d.Deleted)
}
