package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/svirmi/coursepay/internal/model"
)

const withdrawalColumns = `id, reference, principal_id, amount, COALESCE(recipient_code, ''),
	COALESCE(transfer_reference, ''), status, COALESCE(failure_reason, ''), created_at, updated_at`

// WithdrawalUpdate carries the optional columns set alongside a status change.
// Empty strings leave the stored value untouched.
type WithdrawalUpdate struct {
	RecipientCode     string
	TransferReference string
	FailureReason     string
}

type WithdrawalRepository struct {
	db *sql.DB
}

func NewWithdrawalRepository(db *sql.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, w *model.Withdrawal) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO withdrawals (id, reference, principal_id, amount, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		w.ID, w.Reference, w.PrincipalID, w.Amount, string(w.Status),
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (r *WithdrawalRepository) FindByReference(ctx context.Context, reference string) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE reference = $1`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load withdrawal: %w", err)
	}
	return w, nil
}

// UpdateStatus moves a withdrawal from one status to another only if it is
// still in the expected prior status.
func (r *WithdrawalRepository) UpdateStatus(ctx context.Context, reference string, from, to model.WithdrawalStatus, upd WithdrawalUpdate) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRowContext(ctx,
		`UPDATE withdrawals
		 SET status = $3,
		     recipient_code = COALESCE(NULLIF($4, ''), recipient_code),
		     transfer_reference = COALESCE(NULLIF($5, ''), transfer_reference),
		     failure_reason = COALESCE(NULLIF($6, ''), failure_reason),
		     updated_at = NOW()
		 WHERE reference = $1 AND status = $2
		 RETURNING `+withdrawalColumns,
		reference, string(from), string(to), upd.RecipientCode, upd.TransferReference, upd.FailureReason,
	))
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.FindByReference(ctx, reference); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update withdrawal: %w", err)
	}
	return w, nil
}

func scanWithdrawal(s scanner) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := s.Scan(&w.ID, &w.Reference, &w.PrincipalID, &w.Amount, &w.RecipientCode,
		&w.TransferReference, &w.Status, &w.FailureReason, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}
