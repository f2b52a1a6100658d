package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/svirmi/coursepay/internal/model"
)

const purchaseColumns = `id, reference, buyer_id, course_id, educator_id, gross_amount, net_amount, status,
	COALESCE(external_txn_id, ''), verification_payload, needs_reconciliation,
	COALESCE(reconciliation_reason, ''), created_at, completed_at`

type PurchaseRepository struct {
	db *sql.DB
}

func NewPurchaseRepository(db *sql.DB) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create inserts a pending purchase. The reference column is unique, so a
// reused reference fails with ErrDuplicateReference.
func (r *PurchaseRepository) Create(ctx context.Context, p *model.Purchase) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO purchases (id, reference, buyer_id, course_id, educator_id, gross_amount, net_amount, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		 RETURNING status, created_at`,
		p.ID, p.Reference, p.BuyerID, p.CourseID, p.EducatorID, p.GrossAmount, p.NetAmount,
	).Scan(&p.Status, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

func (r *PurchaseRepository) FindByReference(ctx context.Context, reference string) (*model.Purchase, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE reference = $1`, reference)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase: %w", err)
	}
	return p, nil
}

// MarkCompleted moves a pending purchase to completed. Only one caller can
// win the conditional update; everyone else gets ErrInvalidTransition.
func (r *PurchaseRepository) MarkCompleted(ctx context.Context, reference, externalTxnID string, payload json.RawMessage) (*model.Purchase, error) {
	return r.transition(ctx, reference, model.PurchaseCompleted, externalTxnID, payload)
}

func (r *PurchaseRepository) MarkFailed(ctx context.Context, reference string, payload json.RawMessage) (*model.Purchase, error) {
	return r.transition(ctx, reference, model.PurchaseFailed, "", payload)
}

func (r *PurchaseRepository) transition(ctx context.Context, reference string, to model.PurchaseStatus, externalTxnID string, payload json.RawMessage) (*model.Purchase, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE purchases
		 SET status = $2, external_txn_id = NULLIF($3, ''), verification_payload = $4, completed_at = NOW()
		 WHERE reference = $1 AND status = 'pending'
		 RETURNING `+purchaseColumns,
		reference, string(to), externalTxnID, nullableJSON(payload),
	)
	p, err := scanPurchase(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.FindByReference(ctx, reference); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition purchase to %s: %w", to, err)
	}
	return p, nil
}

// FlagReconciliation marks a purchase whose local state disagrees with the
// money taken. Only audit columns change.
func (r *PurchaseRepository) FlagReconciliation(ctx context.Context, reference, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE purchases SET needs_reconciliation = TRUE, reconciliation_reason = $2 WHERE reference = $1`,
		reference, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to flag purchase: %w", err)
	}
	return expectOneRow(res)
}

func (r *PurchaseRepository) ClearReconciliation(ctx context.Context, reference string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE purchases SET needs_reconciliation = FALSE, reconciliation_reason = NULL WHERE reference = $1`,
		reference,
	)
	if err != nil {
		return fmt.Errorf("failed to clear reconciliation flag: %w", err)
	}
	return expectOneRow(res)
}

// ListPendingBefore returns pending purchases created before cutoff, oldest first.
func (r *PurchaseRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Purchase, error) {
	return r.list(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE status = 'pending' AND created_at < $1
		 ORDER BY created_at LIMIT $2`,
		cutoff, limit,
	)
}

// ListNeedingReconciliation returns flagged completed purchases. Flagged
// failed purchases need an operator and are left out.
func (r *PurchaseRepository) ListNeedingReconciliation(ctx context.Context, limit int) ([]model.Purchase, error) {
	return r.list(ctx,
		`SELECT `+purchaseColumns+` FROM purchases
		 WHERE needs_reconciliation AND status = 'completed' ORDER BY created_at LIMIT $1`,
		limit,
	)
}

func (r *PurchaseRepository) list(ctx context.Context, query string, args ...any) ([]model.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var out []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPurchase(s scanner) (*model.Purchase, error) {
	var (
		p         model.Purchase
		payload   []byte
		completed sql.NullTime
	)
	err := s.Scan(&p.ID, &p.Reference, &p.BuyerID, &p.CourseID, &p.EducatorID, &p.GrossAmount, &p.NetAmount, &p.Status,
		&p.ExternalTxnID, &payload, &p.NeedsReconciliation, &p.ReconciliationReason, &p.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		p.VerificationPayload = json.RawMessage(payload)
	}
	if completed.Valid {
		t := completed.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func violatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
