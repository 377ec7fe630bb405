package funds

import (
	"context"
	"sync"
	"time"

	"github.com/proofpay/settlement-coordinator/internal/app/domain/fund"
	"github.com/proofpay/settlement-coordinator/internal/app/metrics"
	"github.com/proofpay/settlement-coordinator/pkg/logger"
)

// DefaultReconcileInterval is the ledger re-read cadence when none is
// configured.
const DefaultReconcileInterval = 30 * time.Second

// Reconciler periodically re-reads every fund from the ledger and caches the
// composed view. The ledger is the source of truth; the cache only ever
// lags it, it is never written ahead of it.
type Reconciler struct {
	service  *Service
	interval time.Duration
	log      *logger.Logger

	mu       sync.RWMutex
	funds    []fund.Fund
	lastSync time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewReconciler creates a reconciler over the coordinator service.
func NewReconciler(service *Service, interval time.Duration, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if log == nil {
		log = logger.NewDefault("reconciler")
	}
	return &Reconciler{
		service:  service,
		interval: interval,
		log:      log,
	}
}

// Name implements system.Service.
func (r *Reconciler) Name() string { return "fund-reconciler" }

// Start begins the periodic reconciliation loop. The first sync runs
// immediately so the cache is populated before the first tick.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.sync(ctx)

	r.wg.Add(1)
	go r.loop(loopCtx)

	r.log.WithField("interval", r.interval.String()).Info("reconciler started")
	return nil
}

// Stop halts the loop and waits for the in-flight sync, if any.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("reconciler stopped")
	return nil
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sync(ctx)
		}
	}
}

// sync refreshes the cached view. A failed sync keeps the previous view.
func (r *Reconciler) sync(ctx context.Context) {
	funds, err := r.service.ListFunds(ctx, Filter{})
	if err != nil {
		r.log.WithError(err).Warn("reconcile sync failed")
		return
	}

	r.mu.Lock()
	r.funds = funds
	r.lastSync = time.Now()
	r.mu.Unlock()

	metrics.ReconcilerTick(len(funds))
	r.log.WithField("funds", len(funds)).Debug("reconcile sync complete")
}

// Snapshot returns the last reconciled view and when it was taken. The
// returned slice is a copy.
func (r *Reconciler) Snapshot() ([]fund.Fund, time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]fund.Fund, len(r.funds))
	copy(out, r.funds)
	return out, r.lastSync
}
