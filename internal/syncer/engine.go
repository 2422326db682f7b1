// Package syncer reconciles the terminal's local store with the server:
// reference data flows down, transactions and shift operations flow up.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"kasirinaja/pos/internal/domain"
	"kasirinaja/pos/internal/localstore"
	"kasirinaja/pos/internal/remote"
)

const defaultPushBatchSize = 50

var ErrConfirmationRequired = errors.New("confirmation required")

// Remote is the part of the server API the engine talks to.
type Remote interface {
	Pull(ctx context.Context, req domain.PullRequest) remote.Result[domain.PullResponse]
	Push(ctx context.Context, req domain.PushRequest) remote.Result[domain.PushResponse]
	OpenShift(ctx context.Context, shift domain.Shift) remote.Result[domain.Shift]
	CloseShift(ctx context.Context, shift domain.Shift) remote.Result[domain.Shift]
}

type Options struct {
	StoreID       string
	DeviceID      string
	PushBatchSize int
	StaleAfter    time.Duration
	// OnReauth is called when a cycle aborts because the session could not
	// be refreshed.
	OnReauth func(err error)
}

type Report struct {
	Scope      Scope          `json:"scope"`
	Skipped    bool           `json:"skipped"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Pull       *PullReport    `json:"pull,omitempty"`
	Push       *PushReport    `json:"push,omitempty"`
	ShiftOps   *ShiftOpReport `json:"shift_ops,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type StatusReport struct {
	Pending         int                     `json:"pending"`
	Stale           int                     `json:"stale"`
	Rejected        []domain.Transaction    `json:"rejected"`
	PendingShiftOps int                     `json:"pending_shift_ops"`
	FailedShiftOps  []domain.PendingShiftOp `json:"failed_shift_ops"`
	Watermark       *time.Time              `json:"watermark,omitempty"`
	Last            *Report                 `json:"last,omitempty"`
}

type Engine struct {
	store     localstore.Store
	api       Remote
	refresher remote.Refresher
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	inFlight atomic.Bool
	mu       sync.Mutex
	last     *Report
}

func New(store localstore.Store, api Remote, refresher remote.Refresher, opts Options, logger *zap.Logger) *Engine {
	if opts.PushBatchSize <= 0 {
		opts.PushBatchSize = defaultPushBatchSize
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	return &Engine{
		store:     store,
		api:       api,
		refresher: refresher,
		opts:      opts,
		logger:    logger.Named("syncer"),
		now:       time.Now,
	}
}

// Sync runs one cycle: pull, then push, then shift operations, limited to
// scope. A call made while another cycle is in flight returns a skipped
// report and no error.
func (e *Engine) Sync(ctx context.Context, scope Scope) (Report, error) {
	var (
		report Report
		err    error
	)
	ran := e.exclusive(func() {
		report = Report{Scope: scope, StartedAt: e.now().UTC()}
		err = e.runCycle(ctx, scope, &report)
		report.FinishedAt = e.now().UTC()
		if err != nil {
			report.Error = err.Error()
		}
		e.mu.Lock()
		last := report
		e.last = &last
		e.mu.Unlock()
	})
	if !ran {
		e.logger.Debug("sync already in flight", zap.String("scope", string(scope)))
		return Report{Scope: scope, Skipped: true}, nil
	}

	if errors.Is(err, remote.ErrReauthRequired) && e.opts.OnReauth != nil {
		e.opts.OnReauth(err)
	}
	return report, err
}

// exclusive runs fn unless another sync operation holds the in-flight flag.
func (e *Engine) exclusive(fn func()) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer e.inFlight.Store(false)
	fn()
	return true
}

func (e *Engine) runCycle(ctx context.Context, scope Scope, report *Report) error {
	if collections := scope.collections(); len(collections) > 0 {
		pull, err := e.pull(ctx, collections, scope.fullPull())
		report.Pull = &pull
		if err != nil {
			return err
		}
	}
	if scope.pushes() {
		push, err := e.push(ctx)
		report.Push = &push
		if err != nil {
			return err
		}
	}
	if scope.drainsShifts() {
		ops, err := e.drainShiftOps(ctx)
		report.ShiftOps = &ops
		if err != nil {
			return err
		}
	}
	return nil
}

// Run syncs on every tick and on every reconnect signal until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration, reconnect <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runLogged(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runLogged(ctx, "tick")
		case _, ok := <-reconnect:
			if !ok {
				reconnect = nil
				continue
			}
			e.runLogged(ctx, "reconnect")
		}
	}
}

func (e *Engine) runLogged(ctx context.Context, trigger string) {
	report, err := e.Sync(ctx, ScopeAll)
	switch {
	case errors.Is(err, remote.ErrReauthRequired):
		e.logger.Warn("sync aborted, re-login required", zap.String("trigger", trigger))
	case err != nil:
		e.logger.Error("sync failed", zap.String("trigger", trigger), zap.Error(err))
	case report.Skipped:
		e.logger.Debug("sync skipped", zap.String("trigger", trigger))
	default:
		fields := []zap.Field{zap.String("trigger", trigger)}
		if report.Push != nil {
			fields = append(fields,
				zap.Int("synced", report.Push.Synced),
				zap.Int("rejected", report.Push.Rejected),
				zap.String("network_error", report.Push.NetworkError),
			)
		}
		e.logger.Info("sync finished", fields...)
	}
}

// Status summarises what is waiting on the server.
func (e *Engine) Status(ctx context.Context) (StatusReport, error) {
	pending, err := e.store.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncPending}})
	if err != nil {
		return StatusReport{}, fmt.Errorf("list pending: %w", err)
	}
	rejected, err := e.store.ListTransactions(ctx, localstore.TxFilter{SyncStatuses: []string{domain.SyncRejected}})
	if err != nil {
		return StatusReport{}, fmt.Errorf("list rejected: %w", err)
	}
	pendingOps, err := e.store.ListShiftOps(ctx, domain.SyncPending)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list shift ops: %w", err)
	}
	failedOps, err := e.store.ListShiftOps(ctx, domain.SyncFailed)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list shift ops: %w", err)
	}
	watermark, err := e.store.Watermark(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	cutoff := e.now().Add(-e.opts.StaleAfter)
	stale := 0
	for _, tx := range pending {
		if tx.EnqueuedAt.Before(cutoff) {
			stale++
		}
	}

	out := StatusReport{
		Pending:         len(pending),
		Stale:           stale,
		Rejected:        rejected,
		PendingShiftOps: len(pendingOps),
		FailedShiftOps:  failedOps,
		Watermark:       watermark,
	}
	e.mu.Lock()
	if e.last != nil {
		last := *e.last
		out.Last = &last
	}
	e.mu.Unlock()
	return out, nil
}
