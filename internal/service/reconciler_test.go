package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/model"
)

func TestReconcilerRepairsFlaggedPurchase(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.succeed(grossPrice)
	f.wallets.failTo = educatorID

	_, err := f.engine.VerifyAndSettle(ctx, ref)
	require.ErrorIs(t, err, ErrReconciliationRequired)
	assert.Equal(t, int64(6000), f.balance(t, platformID))

	r := NewReconciler(f.engine, 24*time.Hour, slogt.New(t))

	// still broken: flag stays
	require.Error(t, r.RunOnce(ctx))
	flagged, err := f.purchases.ListNeedingReconciliation(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, flagged, 1)

	f.wallets.heal()
	require.NoError(t, r.RunOnce(ctx))

	assert.Equal(t, int64(14000), f.balance(t, educatorID))
	// the credit that had landed is not applied twice
	assert.Equal(t, int64(6000), f.balance(t, platformID))
	flagged, err = f.purchases.ListNeedingReconciliation(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, flagged)
	// reconciliation never asks the processor again
	assert.Equal(t, 1, f.gw.verifies())
}

func TestReconcilerStalePending(t *testing.T) {
	ctx := context.Background()
	longAgo := time.Now().Add(-48 * time.Hour)

	tests := []struct {
		name       string
		setup      func(g *fakeGateway)
		wantStatus model.PurchaseStatus
		wantErr    bool
	}{
		{
			name:       "never finished",
			setup:      func(g *fakeGateway) { g.respond(gateway.OutcomeUnknown, "ongoing") },
			wantStatus: model.PurchaseFailed,
		},
		{
			name: "unknown to the processor",
			setup: func(g *fakeGateway) {
				g.verifyErr = &gateway.Error{Op: "verify", StatusCode: 404, Message: "Transaction reference not found"}
			},
			wantStatus: model.PurchaseFailed,
		},
		{
			name:       "paid after all",
			setup:      func(g *fakeGateway) { g.succeed(grossPrice) },
			wantStatus: model.PurchaseCompleted,
		},
		{
			name:       "declined",
			setup:      func(g *fakeGateway) { g.respond(gateway.OutcomeFailed, "failed") },
			wantStatus: model.PurchaseFailed,
		},
		{
			name: "processor down",
			setup: func(g *fakeGateway) {
				g.verifyErr = &gateway.Error{Op: "verify", StatusCode: 503, Retryable: true}
			},
			wantStatus: model.PurchasePending,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSettlementFixture(t)
			f.purchases.WithClock(func() time.Time { return longAgo })
			ref := f.initiate(t)
			tt.setup(f.gw)

			err := NewReconciler(f.engine, 24*time.Hour, slogt.New(t)).RunOnce(ctx)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			p, err := f.purchases.FindByReference(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, p.Status)
		})
	}
}

func TestReconcilerRecordsExpiry(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	f.purchases.WithClock(func() time.Time { return time.Now().Add(-25 * time.Hour) })
	ref := f.initiate(t)
	f.gw.respond(gateway.OutcomeUnknown, "pending")

	require.NoError(t, NewReconciler(f.engine, 24*time.Hour, slogt.New(t)).RunOnce(ctx))

	p, err := f.purchases.FindByReference(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, model.PurchaseFailed, p.Status)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(p.VerificationPayload, &payload))
	assert.Equal(t, "expired", payload["reason"])
	assert.False(t, f.enrolled(t))
}

func TestReconcilerLeavesFreshPending(t *testing.T) {
	ctx := context.Background()
	f := newSettlementFixture(t)
	ref := f.initiate(t)
	f.gw.respond(gateway.OutcomeUnknown, "ongoing")

	require.NoError(t, NewReconciler(f.engine, 24*time.Hour, slogt.New(t)).RunOnce(ctx))

	p, err := f.purchases.FindByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, model.PurchasePending, p.Status)
	assert.Zero(t, f.gw.verifies())
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	f := newSettlementFixture(t)
	r := NewReconciler(f.engine, time.Hour, slogt.New(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
