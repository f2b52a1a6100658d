package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

type SettlementConfig struct {
	CallbackURL         string
	PlatformPrincipalID string
	Fees                FeePolicy
	Split               SplitPolicy
}

// Buyer is the authenticated principal paying for a course.
type Buyer struct {
	ID    string
	Email string
}

// SettlementEngine takes a purchase from checkout to credited wallets.
//
// The pending->completed update on the purchase record is the only
// concurrency guard: whoever wins it grants enrollment and credits wallets,
// everyone else returns the record as it now stands.
type SettlementEngine struct {
	purchases    PurchaseStore
	wallets      WalletStore
	courses      CourseCatalog
	gateway      PaymentGateway
	cfg          SettlementConfig
	logger       *slog.Logger
	newReference func() string
}

func NewSettlementEngine(purchases PurchaseStore, wallets WalletStore, courses CourseCatalog, gw PaymentGateway, cfg SettlementConfig, logger *slog.Logger) (*SettlementEngine, error) {
	if cfg.PlatformPrincipalID == "" {
		return nil, fmt.Errorf("%w: platform principal id is required", ErrValidation)
	}
	if err := cfg.Split.validate(); err != nil {
		return nil, err
	}
	return &SettlementEngine{
		purchases:    purchases,
		wallets:      wallets,
		courses:      courses,
		gateway:      gw,
		cfg:          cfg,
		logger:       logger,
		newReference: uuid.NewString,
	}, nil
}

// InitiatePurchase records a pending purchase and returns the processor's
// checkout URL. If the processor call fails the pending record stays behind
// for the reconciler to expire.
func (e *SettlementEngine) InitiatePurchase(ctx context.Context, buyer Buyer, courseID string) (*model.PurchaseResponse, error) {
	if buyer.ID == "" || buyer.Email == "" {
		return nil, fmt.Errorf("%w: buyer id and email are required", ErrValidation)
	}
	if strings.TrimSpace(courseID) == "" {
		return nil, fmt.Errorf("%w: course id is required", ErrValidation)
	}

	enrolled, err := e.courses.IsEnrolled(ctx, buyer.ID, courseID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if enrolled {
		return nil, ErrAlreadyEnrolled
	}

	pricing, err := e.courses.GetCoursePricing(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", courseID, err)
	}
	if pricing.EducatorID == e.cfg.PlatformPrincipalID {
		return nil, fmt.Errorf("%w: course %s is owned by the platform principal", ErrValidation, courseID)
	}
	net, err := NetPrice(pricing.Price, pricing.DiscountPercent)
	if err != nil {
		return nil, err
	}
	gross := net + e.cfg.Fees.Fee(net)

	p := &model.Purchase{
		ID:          uuid.NewString(),
		Reference:   e.newReference(),
		BuyerID:     buyer.ID,
		CourseID:    courseID,
		EducatorID:  pricing.EducatorID,
		GrossAmount: gross,
		NetAmount:   net,
	}
	if err := e.purchases.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	res, err := e.gateway.Initialize(ctx, gateway.InitializeRequest{
		Email:       buyer.Email,
		Amount:      gross,
		Reference:   p.Reference,
		CallbackURL: e.cfg.CallbackURL,
		Metadata: map[string]any{
			"purchase_id": p.ID,
			"course_id":   courseID,
			"buyer_id":    buyer.ID,
		},
	})
	if err != nil {
		e.logger.Warn("payment initialization failed, purchase left pending",
			"reference", p.Reference, "buyer", buyer.ID, "course", courseID, "error", err)
		return nil, fmt.Errorf("initialize payment: %w", err)
	}

	e.logger.Info("purchase initiated",
		"reference", p.Reference, "buyer", buyer.ID, "course", courseID, "gross", gross, "net", net)

	return &model.PurchaseResponse{
		Reference:   p.Reference,
		CheckoutURL: res.CheckoutURL,
		Amount:      gross,
	}, nil
}

// VerifyAndSettle confirms reference with the processor and, on success,
// completes the purchase, enrolls the buyer and credits both wallets. It may
// be called any number of times, concurrently, from redirects and webhooks.
//
// The returned purchase reflects the current state. A non-nil error with a
// completed purchase means ErrReconciliationRequired: the buyer has paid and
// is owed a success message, the ledger catches up later.
func (e *SettlementEngine) VerifyAndSettle(ctx context.Context, reference string) (*model.Purchase, error) {
	p, err := e.purchases.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.Status.Terminal() {
		return p, nil
	}

	res, err := e.gateway.Verify(ctx, reference)
	if err != nil {
		return p, fmt.Errorf("verify %s: %w", reference, err)
	}

	switch res.Outcome {
	case gateway.OutcomeFailed:
		e.logger.Info("payment failed at processor", "reference", reference, "status", res.Status)
		return e.fail(ctx, reference, res.Raw)
	case gateway.OutcomeSuccess:
	default:
		e.logger.Info("payment not final yet", "reference", reference, "status", res.Status)
		return p, ErrPaymentPending
	}

	if res.Amount != p.GrossAmount {
		e.logger.Error("verified amount mismatch",
			"alert", "reconciliation_required",
			"reference", reference, "expected", p.GrossAmount, "got", res.Amount)
		payload, _ := json.Marshal(map[string]any{
			"gateway":  res.Raw,
			"expected": p.GrossAmount,
			"received": res.Amount,
		})
		failed, err := e.fail(ctx, reference, payload)
		if err != nil || failed.Status != model.PurchaseFailed {
			return failed, err
		}
		return failed, ErrAmountMismatch
	}

	completed, err := e.purchases.MarkCompleted(ctx, reference, res.ExternalTxnID, res.Raw)
	if errors.Is(err, repository.ErrInvalidTransition) {
		// another caller settled it first
		return e.purchases.FindByReference(ctx, reference)
	}
	if err != nil {
		return p, fmt.Errorf("complete purchase: %w", err)
	}

	if err := e.applySettlement(ctx, completed); err != nil {
		return completed, e.flagForReconciliation(ctx, completed, err)
	}

	e.logger.Info("purchase settled",
		"reference", reference, "buyer", completed.BuyerID, "course", completed.CourseID,
		"external_txn_id", completed.ExternalTxnID)
	return completed, nil
}

// ConfirmCharge handles the processor reporting that reference was charged.
// It settles like VerifyAndSettle. If the purchase is already FAILED and the
// processor confirms the charge, the buyer has paid for nothing: the purchase
// is flagged and ErrReconciliationRequired is returned.
func (e *SettlementEngine) ConfirmCharge(ctx context.Context, reference string) (*model.Purchase, error) {
	p, err := e.VerifyAndSettle(ctx, reference)
	if err != nil || p.Status != model.PurchaseFailed {
		return p, err
	}

	res, err := e.gateway.Verify(ctx, reference)
	if err != nil {
		return p, fmt.Errorf("verify %s: %w", reference, err)
	}
	if !res.Success() {
		return p, nil
	}
	return p, e.flagForReconciliation(ctx, p,
		fmt.Errorf("processor charged %d for failed purchase (txn %s)", res.Amount, res.ExternalTxnID))
}

func (e *SettlementEngine) fail(ctx context.Context, reference string, payload json.RawMessage) (*model.Purchase, error) {
	failed, err := e.purchases.MarkFailed(ctx, reference, payload)
	if errors.Is(err, repository.ErrInvalidTransition) {
		return e.purchases.FindByReference(ctx, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("fail purchase: %w", err)
	}
	return failed, nil
}

// applySettlement runs the local side effects of a completed purchase. Every
// step is idempotent, so it is safe to re-run from reconciliation. All steps
// are attempted even if an earlier one fails.
func (e *SettlementEngine) applySettlement(ctx context.Context, p *model.Purchase) error {
	var errs error

	if err := e.courses.Enroll(ctx, p.BuyerID, p.CourseID); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("enroll: %w", err))
	}

	educatorShare, platformShare := e.cfg.Split.Split(p.NetAmount)
	errs = multierr.Append(errs, e.credit(ctx, p.EducatorID, educatorShare, p.Reference,
		fmt.Sprintf("Sale of course %s", p.CourseID)))
	errs = multierr.Append(errs, e.credit(ctx, e.cfg.PlatformPrincipalID, platformShare, p.Reference,
		fmt.Sprintf("Platform share of course %s", p.CourseID)))

	return errs
}

func (e *SettlementEngine) credit(ctx context.Context, principalID string, amount int64, reference, description string) error {
	if amount == 0 {
		return nil
	}
	_, err := e.wallets.Credit(ctx, principalID, amount, reference, description)
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("credit %s: %w", principalID, err)
	}
	return nil
}

func (e *SettlementEngine) flagForReconciliation(ctx context.Context, p *model.Purchase, cause error) error {
	e.logger.Error("reconciliation required",
		"alert", "reconciliation_required",
		"reference", p.Reference, "buyer", p.BuyerID, "course", p.CourseID, "error", cause)

	if err := e.purchases.FlagReconciliation(ctx, p.Reference, cause.Error()); err != nil {
		e.logger.Error("failed to flag purchase for reconciliation",
			"alert", "reconciliation_required", "reference", p.Reference, "error", err)
		return fmt.Errorf("%w: %w (flag failed: %v)", ErrReconciliationRequired, cause, err)
	}
	p.NeedsReconciliation = true
	p.ReconciliationReason = cause.Error()
	return fmt.Errorf("%w: %w", ErrReconciliationRequired, cause)
}

// Purchase returns a purchase owned by buyerID.
func (e *SettlementEngine) Purchase(ctx context.Context, buyerID, reference string) (*model.Purchase, error) {
	p, err := e.purchases.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if p.BuyerID != buyerID {
		return nil, repository.ErrNotFound
	}
	return p, nil
}
