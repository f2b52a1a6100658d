package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

const transferReason = "Wallet withdrawal"

// WithdrawalEngine pays wallet funds out through the processor's transfer
// API. The debit is reserved before the transfer is requested and settled
// only when the processor reports the outcome.
type WithdrawalEngine struct {
	wallets      WalletStore
	withdrawals  WithdrawalStore
	gateway      TransferGateway
	logger       *slog.Logger
	newReference func() string
}

func NewWithdrawalEngine(wallets WalletStore, withdrawals WithdrawalStore, gw TransferGateway, logger *slog.Logger) *WithdrawalEngine {
	return &WithdrawalEngine{
		wallets:      wallets,
		withdrawals:  withdrawals,
		gateway:      gw,
		logger:       logger,
		newReference: uuid.NewString,
	}
}

// RequestWithdrawal reserves amount on the principal's wallet and asks the
// processor to transfer it. Balance and in-progress checks happen before
// any processor call.
func (e *WithdrawalEngine) RequestWithdrawal(ctx context.Context, principalID string, amount int64, bank model.BankDetails) (*model.Withdrawal, error) {
	if principalID == "" {
		return nil, fmt.Errorf("%w: principal id is required", ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if strings.TrimSpace(bank.AccountNumber) == "" || strings.TrimSpace(bank.BankCode) == "" {
		return nil, fmt.Errorf("%w: bank account number and bank code are required", ErrValidation)
	}

	wallet, err := e.wallets.GetOrCreate(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if amount > wallet.Balance {
		return nil, ErrInsufficientBalance
	}
	pending, err := e.wallets.HasPendingDebit(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("check pending debit: %w", err)
	}
	if pending {
		return nil, ErrWithdrawalInProgress
	}

	w := &model.Withdrawal{
		ID:          uuid.NewString(),
		Reference:   e.newReference(),
		PrincipalID: principalID,
		Amount:      amount,
		Status:      model.WithdrawalRequested,
	}
	if err := e.withdrawals.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}

	// the store re-checks balance and pending debits under the wallet lock
	if _, err := e.wallets.ReserveDebit(ctx, principalID, amount, w.Reference, transferReason); err != nil {
		e.abandon(ctx, w.Reference, err.Error())
		if errors.Is(err, repository.ErrDuplicatePendingDebit) {
			return nil, ErrWithdrawalInProgress
		}
		return nil, err
	}

	recipient, err := e.gateway.CreateTransferRecipient(ctx, bank)
	if err != nil {
		return e.release(ctx, w.Reference, fmt.Errorf("create transfer recipient: %w", err))
	}

	transfer, err := e.gateway.InitiateTransfer(ctx, recipient, amount, w.Reference, transferReason)
	if err != nil {
		return e.release(ctx, w.Reference, fmt.Errorf("initiate transfer: %w", err))
	}
	if strings.EqualFold(transfer.Status, "failed") {
		return e.release(ctx, w.Reference, errors.New("initiate transfer: processor reported failure"))
	}

	initiated, err := e.withdrawals.UpdateStatus(ctx, w.Reference, model.WithdrawalRequested, model.WithdrawalTransferInitiated,
		repository.WithdrawalUpdate{RecipientCode: recipient, TransferReference: transfer.TransferCode})
	if errors.Is(err, repository.ErrInvalidTransition) {
		// the transfer webhook beat us here
		return e.withdrawals.FindByReference(ctx, w.Reference)
	}
	if err != nil {
		return nil, fmt.Errorf("record transfer initiation: %w", err)
	}

	e.logger.Info("withdrawal transfer initiated",
		"reference", w.Reference, "principal", principalID, "amount", amount, "transfer_status", transfer.Status)
	return initiated, nil
}

// release undoes the reservation after a failed transfer initiation and
// returns cause to the caller.
func (e *WithdrawalEngine) release(ctx context.Context, reference string, cause error) (*model.Withdrawal, error) {
	e.logger.Warn("withdrawal transfer not initiated, releasing reservation", "reference", reference, "error", cause)

	if _, err := e.wallets.SettleDebit(ctx, reference, false); err != nil {
		e.logger.Error("failed to release debit reservation", "reference", reference, "error", err)
		return nil, fmt.Errorf("%w (release failed: %v)", cause, err)
	}
	e.abandon(ctx, reference, cause.Error())
	return nil, cause
}

func (e *WithdrawalEngine) abandon(ctx context.Context, reference, reason string) {
	if _, err := e.withdrawals.UpdateStatus(ctx, reference, model.WithdrawalRequested, model.WithdrawalReversed,
		repository.WithdrawalUpdate{FailureReason: reason}); err != nil {
		e.logger.Error("failed to mark withdrawal reversed", "reference", reference, "error", err)
	}
}

// ConfirmTransfer applies the processor's final word on a transfer.
// Repeated confirmations with the same outcome return the stored withdrawal.
func (e *WithdrawalEngine) ConfirmTransfer(ctx context.Context, reference string, success bool, reason string) (*model.Withdrawal, error) {
	w, err := e.withdrawals.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	target := model.WithdrawalReversed
	if success {
		target = model.WithdrawalSettled
	}

	if w.Status.Terminal() {
		if w.Status == target {
			return w, nil
		}
		e.logger.Error("transfer outcome conflicts with recorded withdrawal",
			"alert", "reconciliation_required", "reference", reference,
			"recorded", w.Status, "reported_success", success)
		return w, ErrReconciliationRequired
	}

	if _, err := e.wallets.SettleDebit(ctx, reference, success); err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
		return nil, fmt.Errorf("settle debit: %w", err)
	}

	upd := repository.WithdrawalUpdate{}
	if !success {
		upd.FailureReason = reason
	}
	done, err := e.withdrawals.UpdateStatus(ctx, reference, w.Status, target, upd)
	if errors.Is(err, repository.ErrInvalidTransition) {
		return e.withdrawals.FindByReference(ctx, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("update withdrawal: %w", err)
	}

	e.logger.Info("withdrawal resolved", "reference", reference, "status", done.Status)
	return done, nil
}
