package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/svirmi/coursepay/internal/model"
)

const (
	transactionColumns = `id, principal_id, direction, amount, reference, description, status, created_at, settled_at`

	pendingDebitIndex = "wallet_transactions_one_pending_debit"
)

// WalletRepository keeps per-principal balances and their ledger. Every
// mutation locks the wallet row first, so balance and ledger change together.
type WalletRepository struct {
	db *sql.DB
}

func NewWalletRepository(db *sql.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetOrCreate(ctx context.Context, principalID string) (*model.Wallet, error) {
	if err := ensureWallet(ctx, r.db, principalID); err != nil {
		return nil, err
	}

	var w model.Wallet
	err := r.db.QueryRowContext(ctx,
		`SELECT principal_id, balance, created_at, updated_at FROM wallets WHERE principal_id = $1`,
		principalID,
	).Scan(&w.PrincipalID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return &w, nil
}

// Credit appends a completed credit and raises the balance in one database
// transaction. A second credit with the same reference for the same
// principal fails with ErrDuplicateTransaction and changes nothing.
func (r *WalletRepository) Credit(ctx context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureWallet(ctx, tx, principalID); err != nil {
		return nil, err
	}
	if _, err := lockBalance(ctx, tx, principalID); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO wallet_transactions (principal_id, direction, amount, reference, description, status, settled_at)
		 VALUES ($1, 'credit', $2, $3, $4, 'completed', NOW())
		 RETURNING `+transactionColumns,
		principalID, amount, reference, description,
	)
	txn, err := scanTransaction(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to insert credit: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE principal_id = $2`,
		amount, principalID,
	); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit credit: %w", err)
	}
	return txn, nil
}

// ReserveDebit records a pending debit without touching the balance. At most
// one pending debit may exist per principal.
func (r *WalletRepository) ReserveDebit(ctx context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureWallet(ctx, tx, principalID); err != nil {
		return nil, err
	}
	balance, err := lockBalance(ctx, tx, principalID)
	if err != nil {
		return nil, err
	}
	if amount > balance {
		return nil, ErrInsufficientBalance
	}

	pending, err := hasPendingDebit(ctx, tx, principalID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrDuplicatePendingDebit
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO wallet_transactions (principal_id, direction, amount, reference, description, status)
		 VALUES ($1, 'debit', $2, $3, $4, 'pending')
		 RETURNING `+transactionColumns,
		principalID, amount, reference, description,
	)
	txn, err := scanTransaction(row)
	if err != nil {
		if isUniqueViolation(err) {
			if violatedConstraint(err) == pendingDebitIndex {
				return nil, ErrDuplicatePendingDebit
			}
			return nil, ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to insert debit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit reservation: %w", err)
	}
	return txn, nil
}

// SettleDebit resolves a pending debit. On success the reserved amount
// leaves the balance; on failure the reservation is simply released.
func (r *WalletRepository) SettleDebit(ctx context.Context, reference string, success bool) (*model.Transaction, error) {
	var principalID string
	err := r.db.QueryRowContext(ctx,
		`SELECT principal_id FROM wallet_transactions WHERE reference = $1 AND direction = 'debit'`,
		reference,
	).Scan(&principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find debit: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// wallet row before ledger row, same order as Credit and ReserveDebit
	balance, err := lockBalance(ctx, tx, principalID)
	if err != nil {
		return nil, err
	}

	txn, err := scanTransaction(tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions
		 WHERE principal_id = $1 AND reference = $2 AND direction = 'debit' FOR UPDATE`,
		principalID, reference,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to lock debit: %w", err)
	}
	if txn.Status != model.TxPending {
		return nil, ErrInvalidTransition
	}

	status := model.TxFailed
	if success {
		if txn.Amount > balance {
			return nil, ErrInsufficientBalance
		}
		if _, err = tx.ExecContext(ctx,
			`UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE principal_id = $2`,
			txn.Amount, principalID,
		); err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}
		status = model.TxCompleted
	}

	txn, err = scanTransaction(tx.QueryRowContext(ctx,
		`UPDATE wallet_transactions SET status = $1, settled_at = NOW()
		 WHERE id = $2 RETURNING `+transactionColumns,
		string(status), txn.ID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to settle debit: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return txn, nil
}

func (r *WalletRepository) HasPendingDebit(ctx context.Context, principalID string) (bool, error) {
	return hasPendingDebit(ctx, r.db, principalID)
}

// Transactions lists a principal's ledger in insertion order.
func (r *WalletRepository) Transactions(ctx context.Context, principalID string) ([]model.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM wallet_transactions WHERE principal_id = $1 ORDER BY id`,
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := []model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func ensureWallet(ctx context.Context, q execQuerier, principalID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO wallets (principal_id) VALUES ($1) ON CONFLICT (principal_id) DO NOTHING`,
		principalID,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func lockBalance(ctx context.Context, tx *sql.Tx, principalID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE principal_id = $1 FOR UPDATE`,
		principalID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return balance, nil
}

func hasPendingDebit(ctx context.Context, q execQuerier, principalID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM wallet_transactions
		 WHERE principal_id = $1 AND direction = 'debit' AND status = 'pending')`,
		principalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending debit: %w", err)
	}
	return exists, nil
}

func scanTransaction(s scanner) (*model.Transaction, error) {
	var (
		t       model.Transaction
		settled sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.PrincipalID, &t.Direction, &t.Amount, &t.Reference, &t.Description,
		&t.Status, &t.CreatedAt, &settled); err != nil {
		return nil, err
	}
	if settled.Valid {
		ts := settled.Time
		t.SettledAt = &ts
	}
	return &t, nil
}
