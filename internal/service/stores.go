package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

// PurchaseStore is implemented by repository.PurchaseRepository and memstore.PurchaseStore.
type PurchaseStore interface {
	Create(ctx context.Context, p *model.Purchase) error
	FindByReference(ctx context.Context, reference string) (*model.Purchase, error)
	MarkCompleted(ctx context.Context, reference, externalTxnID string, payload json.RawMessage) (*model.Purchase, error)
	MarkFailed(ctx context.Context, reference string, payload json.RawMessage) (*model.Purchase, error)
	FlagReconciliation(ctx context.Context, reference, reason string) error
	ClearReconciliation(ctx context.Context, reference string) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Purchase, error)
	ListNeedingReconciliation(ctx context.Context, limit int) ([]model.Purchase, error)
}

type WalletStore interface {
	GetOrCreate(ctx context.Context, principalID string) (*model.Wallet, error)
	Credit(ctx context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error)
	ReserveDebit(ctx context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error)
	SettleDebit(ctx context.Context, reference string, success bool) (*model.Transaction, error)
	HasPendingDebit(ctx context.Context, principalID string) (bool, error)
	Transactions(ctx context.Context, principalID string) ([]model.Transaction, error)
}

type WithdrawalStore interface {
	Create(ctx context.Context, w *model.Withdrawal) error
	FindByReference(ctx context.Context, reference string) (*model.Withdrawal, error)
	UpdateStatus(ctx context.Context, reference string, from, to model.WithdrawalStatus, upd repository.WithdrawalUpdate) (*model.Withdrawal, error)
}

// CourseCatalog is the course/enrollment store owned by the catalog side of the platform.
type CourseCatalog interface {
	GetCoursePricing(ctx context.Context, courseID string) (*model.CoursePricing, error)
	IsEnrolled(ctx context.Context, buyerID, courseID string) (bool, error)
	Enroll(ctx context.Context, buyerID, courseID string) error
}

type PaymentGateway interface {
	Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error)
}

type TransferGateway interface {
	CreateTransferRecipient(ctx context.Context, bank model.BankDetails) (string, error)
	InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (*gateway.TransferResult, error)
}
