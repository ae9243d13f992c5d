package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	settlementdomain "github.com/wowgifts/giftlink/internal/app/domain/settlement"
	"github.com/wowgifts/giftlink/internal/app/metrics"
	"github.com/wowgifts/giftlink/internal/app/storage"
	"github.com/wowgifts/giftlink/internal/app/system"
	"github.com/wowgifts/giftlink/pkg/logger"
)

// Reconciler watches the settlement journal for confirmed transfers whose
// gift record was never marked claimed and retries the record update. Funds
// only move once; the reconciler repairs bookkeeping, it never settles.
type Reconciler struct {
	gifts       storage.GiftStore
	settlements storage.SettlementStore
	interval    time.Duration
	log         *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	nextAttempt map[string]time.Time
}

var _ system.Service = (*Reconciler)(nil)

// NewReconciler constructs a reconciler polling at interval. A non-positive
// interval defaults to 30 seconds.
func NewReconciler(gifts storage.GiftStore, settlements storage.SettlementStore, interval time.Duration, log *logger.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("claim-reconciler")
	}
	return &Reconciler{
		gifts:       gifts,
		settlements: settlements,
		interval:    interval,
		log:         log,
		nextAttempt: make(map[string]time.Time),
	}
}

func (r *Reconciler) Name() string { return "claim-reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("claim reconciler started")
	return nil
}

func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Reconciler) tick(ctx context.Context) {
	records, err := r.settlements.ListUnreconciled(ctx)
	if err != nil {
		r.log.WithError(err).Warn("list unreconciled settlements failed")
		return
	}

	now := time.Now()
	for _, rec := range records {
		if !r.shouldAttempt(rec.ID, now) {
			continue
		}
		r.reconcile(ctx, rec)
	}
}

func (r *Reconciler) reconcile(ctx context.Context, rec settlementdomain.Record) {
	_, err := r.gifts.ClaimGift(ctx, rec.GiftID, rec.Recipient)
	switch {
	case err == nil:
		// The retried update went through.
	case errors.Is(err, storage.ErrGiftAlreadyClaimed):
		// Someone recorded the claim in the meantime. Confirm the record
		// agrees with the journal before retiring it.
		g, getErr := r.gifts.GetGift(ctx, rec.GiftID)
		if getErr != nil {
			r.log.WithError(getErr).Warnf("verify claimed gift %s failed", rec.GiftID)
			r.scheduleNext(rec.ID)
			return
		}
		if g.ClaimedBy != rec.Recipient {
			// Settled to one address, recorded as claimed by another. Not
			// repairable from here; needs an operator.
			r.log.WithField("gift", rec.GiftID).WithField("settled_to", rec.Recipient).
				WithField("claimed_by", g.ClaimedBy).Error("settlement and claim record disagree")
			metrics.RecordReconciliation("conflict")
			r.scheduleNext(rec.ID)
			return
		}
	default:
		r.log.WithError(err).Warnf("reconcile gift %s failed", rec.GiftID)
		metrics.RecordReconciliation("retry")
		r.scheduleNext(rec.ID)
		return
	}

	rec.Status = settlementdomain.StatusReconciled
	if _, err := r.settlements.UpdateSettlement(ctx, rec); err != nil {
		r.log.WithError(err).Warnf("mark settlement %s reconciled failed", rec.ID)
		r.scheduleNext(rec.ID)
		return
	}
	metrics.RecordReconciliation("repaired")
	r.log.WithField("gift", rec.GiftID).WithField("tx", rec.TxHash).Info("claim record reconciled")
	r.clearSchedule(rec.ID)
}

func (r *Reconciler) shouldAttempt(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	next, ok := r.nextAttempt[id]
	return !ok || now.After(next)
}

func (r *Reconciler) scheduleNext(id string) {
	r.mu.Lock()
	r.nextAttempt[id] = time.Now().Add(r.interval * 2)
	r.mu.Unlock()
}

func (r *Reconciler) clearSchedule(id string) {
	r.mu.Lock()
	delete(r.nextAttempt, id)
	r.mu.Unlock()
}
