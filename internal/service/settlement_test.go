package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
	"github.com/svirmi/coursepay/internal/repository/memstore"
)

const (
	courseID   = "go-101"
	educatorID = "educator-1"
	platformID = "platform"
	// 20000 net plus ceil(1.5%) = 300 fee
	grossPrice = int64(20300)
)

var buyer = Buyer{ID: "buyer-1", Email: "buyer@example.com"}

type settlementFixture struct {
	purchases *memstore.PurchaseStore
	wallets   *flakyWallets
	courses   *memstore.CourseStore
	gw        *fakeGateway
	engine    *SettlementEngine
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	f := &settlementFixture{
		purchases: memstore.NewPurchaseStore(),
		wallets:   &flakyWallets{WalletStore: memstore.NewWalletStore()},
		courses:   memstore.NewCourseStore(),
		gw:        &fakeGateway{},
	}
	require.NoError(t, f.courses.UpsertCourse(context.Background(), model.CoursePricing{
		CourseID: courseID, Price: 20000, EducatorID: educatorID,
	}))

	engine, err := NewSettlementEngine(f.purchases, f.wallets, f.courses, f.gw, SettlementConfig{
		CallbackURL:         "https://app.example/payments/callback",
		PlatformPrincipalID: platformID,
		Fees: FeePolicy{
			Percent:       decimal.RequireFromString("1.5"),
			Flat:          10000,
			FlatThreshold: 250000,
			Cap:           200000,
		},
		Split: SplitPolicy{EducatorPercent: decimal.NewFromInt(70)},
	}, slogt.New(t))
	require.NoError(t, err)

	n := 0
	engine.newReference = func() string {
		n++
		return fmt.Sprintf("ref-%d", n)
	}
	f.engine = engine
	return f
}

func (f *settlementFixture) initiate(t *testing.T) string {
	t.Helper()
	res, err := f.engine.InitiatePurchase(context.Background(), buyer, courseID)
	require.NoError(t, err)
	return res.Reference
}

func (f *settlementFixture) balance(t *testing.T, principalID string) int64 {
	t.Helper()
	w, err := f.wallets.GetOrCreate(context.Background(), principalID)
	require.NoError(t, err)
	return w.Balance
}

func (f *settlementFixture) enrolled(t *testing.T) bool {
	t.Helper()
	ok, err := f.courses.IsEnrolled(context.Background(), buyer.ID, courseID)
	require.NoError(t, err)
	return ok
}

func TestNewSettlementEngineValidates(t *testing.T) {
	_, err := NewSettlementEngine(nil, nil, nil, nil, SettlementConfig{}, slogt.New(t))
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewSettlementEngine(nil, nil, nil, nil, SettlementConfig{
		PlatformPrincipalID: platformID,
		Split:               SplitPolicy{EducatorPercent: decimal.NewFromInt(120)},
	}, slogt.New(t))
	require.ErrorIs(t, err, ErrValidation)
}

func TestInitiatePurchase(t *testing.T) {
	f := newSettlementFixture(t)

	res, err := f.engine.InitiatePurchase(context.Background(), buyer, courseID)
	require.NoError(t, err)
	assert.Equal(t, "ref-1", res.Reference)
	assert.Equal(t, grossPrice, res.Amount)
	assert.Equal(t, "https://checkout.example/ref-1", res.CheckoutURL)

	require.Len(t, f.gw.initReqs, 1)
	req := f.gw.initReqs[0]
	assert.Equal(t, buyer.Email, req.Email)
	assert.Equal(t, grossPrice, req.Amount)
	assert.Equal(t, "https://app.example/payments/callback", req.CallbackURL)

	p, err := f.purchases.FindByReference(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, model.PurchasePending, p.Status)
	assert.Equal(t, int64(20000), p.NetAmount)
	assert.Equal(t, grossPrice, p.GrossAmount)
	assert.Equal(t, educatorID, p.EducatorID)
}

func TestInitiatePurchaseRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("already enrolled", func(t *testing.T) {
		f := newSettlementFixture(t)
		require.NoError(t, f.courses.Enroll(ctx, buyer.ID, courseID))

		_, err := f.engine.InitiatePurchase(ctx, buyer, courseID)
		require.ErrorIs(t, err, ErrAlreadyEnrolled)
		assert.Empty(t, f.gw.initReqs)
		_, err = f.purchases.FindByReference(ctx, "ref-1")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("unknown course", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.engine.InitiatePurchase(ctx, buyer, "nope")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("missing buyer email", func(t *testing.T) {
		f := newSettlementFixture(t)
		_, err := f.engine.InitiatePurchase(ctx, Buyer{ID: "b"}, courseID)
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("processor down leaves record pending", func(t *testing.T) {
		f := newSettlementFixture(t)
		f.gw.initErr = &gateway.Error{Op: "initialize", StatusCode: 503, Retryable: true}

		_, err := f.engine.InitiatePurchase(ctx, buyer, courseID)
		require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

		p, err := f.purchases.FindByReference(ctx, "ref-1")
		require.NoError(t, err)
		assert.Equal(t, model.PurchasePending, p.Status)
	})
}

func TestVerifyAndSettleSuccess(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.succeed(grossPrice)

	p, err := f.engine.VerifyAndSettle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseCompleted, p.Status)
	assert.Equal(t, "4099260516", p.ExternalTxnID)
	assert.True(t, f.enrolled(t))
	assert.Equal(t, int64(14000), f.balance(t, educatorID))
	assert.Equal(t, int64(6000), f.balance(t, platformID))

	// second call is answered from the record alone
	again, err := f.engine.VerifyAndSettle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseCompleted, again.Status)
	assert.Equal(t, 1, f.gw.verifies())
	assert.Equal(t, int64(14000), f.balance(t, educatorID))

	txns, err := f.wallets.Transactions(ctx, educatorID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, ref, txns[0].Reference)
	assert.Equal(t, "Sale of course go-101", txns[0].Description)
}

func TestVerifyAndSettleConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.succeed(grossPrice)

	const callers = 10
	var wg sync.WaitGroup
	for n := 0; n < callers; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.engine.VerifyAndSettle(ctx, ref)
			if assert.NoError(t, err) {
				assert.Equal(t, model.PurchaseCompleted, p.Status)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(14000), f.balance(t, educatorID))
	assert.Equal(t, int64(6000), f.balance(t, platformID))
	txns, err := f.wallets.Transactions(ctx, platformID)
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestVerifyAndSettleFailed(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.respond(gateway.OutcomeFailed, "failed")

	p, err := f.engine.VerifyAndSettle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseFailed, p.Status)
	assert.False(t, f.enrolled(t))
	assert.Zero(t, f.balance(t, educatorID))

	// a late success report does not revive it
	f.gw.succeed(grossPrice)
	p, err = f.engine.VerifyAndSettle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseFailed, p.Status)
	assert.Equal(t, 1, f.gw.verifies())
}

func TestVerifyAndSettleUnknownOutcome(t *testing.T) {
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.respond(gateway.OutcomeUnknown, "ongoing")

	p, err := f.engine.VerifyAndSettle(context.Background(), ref)
	require.ErrorIs(t, err, ErrPaymentPending)
	assert.Equal(t, model.PurchasePending, p.Status)
}

func TestVerifyAndSettleGatewayError(t *testing.T) {
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.verifyErr = &gateway.Error{Op: "verify", StatusCode: 502, Retryable: true}

	p, err := f.engine.VerifyAndSettle(context.Background(), ref)
	require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)
	require.NotNil(t, p)
	assert.Equal(t, model.PurchasePending, p.Status)
}

func TestVerifyAndSettleAmountMismatch(t *testing.T) {
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.succeed(100)

	p, err := f.engine.VerifyAndSettle(context.Background(), ref)
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, model.PurchaseFailed, p.Status)
	assert.False(t, f.enrolled(t))
	assert.Zero(t, f.balance(t, educatorID))
	assert.Zero(t, f.balance(t, platformID))
}

func TestVerifyAndSettleMismatchRaisesAlert(t *testing.T) {
	f := newSettlementFixture(t)
	var logs bytes.Buffer
	f.engine.logger = slog.New(slog.NewJSONHandler(&logs, nil))
	ref := f.initiate(t)
	f.gw.succeed(grossPrice - 1)

	_, err := f.engine.VerifyAndSettle(context.Background(), ref)
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Contains(t, logs.String(), `"alert":"reconciliation_required"`)
}

func TestVerifyAndSettleAbandonedCheckoutCanStillPay(t *testing.T) {
	ctx := context.Background()
	var status atomic.Value
	status.Store("abandoned")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{"id": 77, "status": status.Load(), "reference": "ref-1", "amount": grossPrice}
		if r.URL.Path == "/transaction/initialize" {
			data = map[string]any{"authorization_url": "https://checkout.test/ref-1", "access_code": "ac", "reference": "ref-1"}
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(map[string]any{"status": true, "message": "ok", "data": data}))
	}))
	t.Cleanup(srv.Close)

	f := newSettlementFixture(t)
	f.engine.gateway = gateway.New(gateway.Config{BaseURL: srv.URL, SecretKey: "sk_test"}, slogt.New(t))
	ref := f.initiate(t)

	// buyer is back from checkout before paying
	p, err := f.engine.VerifyAndSettle(ctx, ref)
	require.ErrorIs(t, err, ErrPaymentPending)
	assert.Equal(t, model.PurchasePending, p.Status)

	status.Store("success")
	p, err = f.engine.VerifyAndSettle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseCompleted, p.Status)
	assert.True(t, f.enrolled(t))
	assert.Equal(t, int64(14000), f.balance(t, educatorID))
	assert.Equal(t, int64(6000), f.balance(t, platformID))
}

func TestConfirmCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("pending purchase settles", func(t *testing.T) {
		f := newSettlementFixture(t)
		ref := f.initiate(t)
		f.gw.succeed(grossPrice)

		p, err := f.engine.ConfirmCharge(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, model.PurchaseCompleted, p.Status)
		assert.Equal(t, int64(14000), f.balance(t, educatorID))
	})

	t.Run("charge on failed purchase is flagged", func(t *testing.T) {
		f := newSettlementFixture(t)
		var logs bytes.Buffer
		f.engine.logger = slog.New(slog.NewJSONHandler(&logs, nil))
		ref := f.initiate(t)
		f.gw.respond(gateway.OutcomeFailed, "failed")
		p, err := f.engine.VerifyAndSettle(ctx, ref)
		require.NoError(t, err)
		require.Equal(t, model.PurchaseFailed, p.Status)

		f.gw.succeed(grossPrice)
		p, err = f.engine.ConfirmCharge(ctx, ref)
		require.ErrorIs(t, err, ErrReconciliationRequired)
		assert.Equal(t, model.PurchaseFailed, p.Status)
		assert.True(t, p.NeedsReconciliation)
		assert.Contains(t, logs.String(), `"alert":"reconciliation_required"`)

		stored, err := f.purchases.FindByReference(ctx, ref)
		require.NoError(t, err)
		assert.True(t, stored.NeedsReconciliation)
		assert.Contains(t, stored.ReconciliationReason, "failed purchase")

		// nothing is granted locally; an operator settles it
		assert.False(t, f.enrolled(t))
		assert.Zero(t, f.balance(t, educatorID))
		require.NoError(t, NewReconciler(f.engine, 24*time.Hour, slogt.New(t)).RunOnce(ctx))
		assert.Zero(t, f.balance(t, educatorID))
	})

	t.Run("failed purchase the processor also failed", func(t *testing.T) {
		f := newSettlementFixture(t)
		ref := f.initiate(t)
		f.gw.respond(gateway.OutcomeFailed, "failed")

		p, err := f.engine.ConfirmCharge(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, model.PurchaseFailed, p.Status)
		assert.False(t, p.NeedsReconciliation)
	})
}

func TestInitiatePurchaseRejectsPlatformOwnedCourse(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	require.NoError(t, f.courses.UpsertCourse(ctx, model.CoursePricing{
		CourseID: "house-101", Price: 5000, EducatorID: platformID,
	}))

	_, err := f.engine.InitiatePurchase(ctx, buyer, "house-101")
	require.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.gw.initReqs)
}

func TestVerifyAndSettleUnknownReference(t *testing.T) {
	f := newSettlementFixture(t)
	_, err := f.engine.VerifyAndSettle(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
	assert.Zero(t, f.gw.verifies())
}

func TestVerifyAndSettleFlagsPartialSettlement(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.succeed(grossPrice)
	f.wallets.failTo = platformID

	p, err := f.engine.VerifyAndSettle(ctx, ref)
	require.ErrorIs(t, err, ErrReconciliationRequired)
	require.ErrorIs(t, err, errStoreDown)
	assert.Equal(t, model.PurchaseCompleted, p.Status)
	assert.True(t, p.NeedsReconciliation)

	// the steps that could run still ran
	assert.True(t, f.enrolled(t))
	assert.Equal(t, int64(14000), f.balance(t, educatorID))
	assert.Zero(t, f.balance(t, platformID))

	flagged, err := f.purchases.ListNeedingReconciliation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Contains(t, flagged[0].ReconciliationReason, "store unavailable")

	// later callers see a completed purchase and do not retry the credits
	again, err := f.engine.VerifyAndSettle(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseCompleted, again.Status)
	assert.Zero(t, f.balance(t, platformID))
}

func TestPurchaseOwnership(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)

	p, err := f.engine.Purchase(ctx, buyer.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, p.Reference)

	_, err = f.engine.Purchase(ctx, "someone-else", ref)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
