package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

const defaultBatchSize = 100

// Reconciler repairs purchases the request path could not finish. It never
// charges or refunds at the processor; it only re-reads verification results
// and re-applies idempotent local steps.
type Reconciler struct {
	engine        *SettlementEngine
	purchases     PurchaseStore
	pendingExpiry time.Duration
	batchSize     int
	logger        *slog.Logger
	now           func() time.Time
}

func NewReconciler(engine *SettlementEngine, pendingExpiry time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		engine:        engine,
		purchases:     engine.purchases,
		pendingExpiry: pendingExpiry,
		batchSize:     defaultBatchSize,
		logger:        logger,
		now:           time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reconciliation sweep finished with errors", "error", err)
			}
		}
	}
}

// RunOnce re-applies settlement for flagged purchases, then resolves
// pending purchases older than the expiry window.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	return multierr.Append(r.reconcileFlagged(ctx), r.expireStale(ctx))
}

func (r *Reconciler) reconcileFlagged(ctx context.Context) error {
	flagged, err := r.purchases.ListNeedingReconciliation(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("list flagged purchases: %w", err)
	}

	var errs error
	for i := range flagged {
		p := &flagged[i]
		if p.Status != model.PurchaseCompleted {
			continue
		}
		if err := r.engine.applySettlement(ctx, p); err != nil {
			r.logger.Error("reconciliation attempt failed",
				"alert", "reconciliation_required", "reference", p.Reference, "error", err)
			errs = multierr.Append(errs, fmt.Errorf("reconcile %s: %w", p.Reference, err))
			continue
		}
		if err := r.purchases.ClearReconciliation(ctx, p.Reference); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("clear flag %s: %w", p.Reference, err))
			continue
		}
		r.logger.Info("purchase reconciled", "reference", p.Reference)
	}
	return errs
}

func (r *Reconciler) expireStale(ctx context.Context) error {
	if r.pendingExpiry <= 0 {
		return nil
	}
	cutoff := r.now().Add(-r.pendingExpiry)
	stale, err := r.purchases.ListPendingBefore(ctx, cutoff, r.batchSize)
	if err != nil {
		return fmt.Errorf("list stale purchases: %w", err)
	}

	var errs error
	for _, p := range stale {
		_, err := r.engine.VerifyAndSettle(ctx, p.Reference)
		switch {
		case err == nil,
			errors.Is(err, ErrReconciliationRequired),
			errors.Is(err, ErrAmountMismatch):
			continue
		case errors.Is(err, ErrPaymentPending), errors.Is(err, gateway.ErrInvalidRequest):
			// the processor never reached a final answer within the window
		default:
			errs = multierr.Append(errs, fmt.Errorf("verify stale %s: %w", p.Reference, err))
			continue
		}

		payload, _ := json.Marshal(map[string]string{"reason": "expired", "expired_at": r.now().UTC().Format(time.RFC3339)})
		if _, err := r.purchases.MarkFailed(ctx, p.Reference, payload); err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", p.Reference, err))
			continue
		}
		r.logger.Info("expired stale purchase", "reference", p.Reference, "created_at", p.CreatedAt)
	}
	return errs
}
