package cache

import (
	"context"
	"fmt"
	"time"

	"kasirinaja/pos/internal/domain"
)

// SummaryCache holds computed pre-EOD summaries per store and operational
// date.
type SummaryCache interface {
	Get(ctx context.Context, storeID string, date string) (*domain.PreEODSummary, bool, error)
	Set(ctx context.Context, summary domain.PreEODSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string, date string) error
}

func SummaryKey(storeID string, date string) string {
	return fmt.Sprintf("eod:summary:%s:%s", storeID, date)
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string, _ string) (*domain.PreEODSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ domain.PreEODSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string, _ string) error {
	return nil
}
