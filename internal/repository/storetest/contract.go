// Package storetest holds behavioural contracts shared by the in-memory and
// Postgres stores. Each contract takes a constructor so every subtest gets a
// fresh, empty store.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
	"github.com/svirmi/coursepay/internal/service"
)

type CourseStore interface {
	service.CourseCatalog
	UpsertCourse(ctx context.Context, p model.CoursePricing) error
}

func newPurchase(buyer string) *model.Purchase {
	return &model.Purchase{
		ID:          uuid.NewString(),
		Reference:   uuid.NewString(),
		BuyerID:     buyer,
		CourseID:    "course-1",
		EducatorID:  "educator-1",
		GrossAmount: 10150,
		NetAmount:   10000,
	}
}

func TestPurchaseStoreContract(t *testing.T, newStore func(t *testing.T) service.PurchaseStore) {
	ctx := context.Background()

	t.Run("create starts pending", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))

		got, err := s.FindByReference(ctx, p.Reference)
		require.NoError(t, err)
		assert.Equal(t, model.PurchasePending, got.Status)
		assert.Equal(t, p.GrossAmount, got.GrossAmount)
		assert.Equal(t, p.NetAmount, got.NetAmount)
		assert.Equal(t, "educator-1", got.EducatorID)
		assert.False(t, got.CreatedAt.IsZero())
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("duplicate reference rejected", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))

		dup := newPurchase("buyer-2")
		dup.Reference = p.Reference
		require.ErrorIs(t, s.Create(ctx, dup), repository.ErrDuplicateReference)
	})

	t.Run("unknown reference", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByReference(ctx, "missing")
		require.ErrorIs(t, err, repository.ErrNotFound)

		_, err = s.MarkCompleted(ctx, "missing", "1", nil)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("completed is terminal", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))

		done, err := s.MarkCompleted(ctx, p.Reference, "txn-42", json.RawMessage(`{"status":"success"}`))
		require.NoError(t, err)
		assert.Equal(t, model.PurchaseCompleted, done.Status)
		assert.Equal(t, "txn-42", done.ExternalTxnID)
		assert.NotNil(t, done.CompletedAt)
		assert.JSONEq(t, `{"status":"success"}`, string(done.VerificationPayload))

		_, err = s.MarkFailed(ctx, p.Reference, nil)
		require.ErrorIs(t, err, repository.ErrInvalidTransition)
		_, err = s.MarkCompleted(ctx, p.Reference, "txn-43", nil)
		require.ErrorIs(t, err, repository.ErrInvalidTransition)

		got, err := s.FindByReference(ctx, p.Reference)
		require.NoError(t, err)
		assert.Equal(t, model.PurchaseCompleted, got.Status)
		assert.Equal(t, "txn-42", got.ExternalTxnID)
	})

	t.Run("failed is terminal", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))

		_, err := s.MarkFailed(ctx, p.Reference, json.RawMessage(`{"status":"failed"}`))
		require.NoError(t, err)
		_, err = s.MarkCompleted(ctx, p.Reference, "txn-1", nil)
		require.ErrorIs(t, err, repository.ErrInvalidTransition)
	})

	t.Run("concurrent completion has one winner", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))

		const workers = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for n := 0; n < workers; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.MarkCompleted(ctx, p.Reference, "txn-1", nil)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, repository.ErrInvalidTransition)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("reconciliation flag", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))
		_, err := s.MarkCompleted(ctx, p.Reference, "txn-1", nil)
		require.NoError(t, err)

		require.NoError(t, s.FlagReconciliation(ctx, p.Reference, "credit failed"))
		flagged, err := s.ListNeedingReconciliation(ctx, 10)
		require.NoError(t, err)
		require.Len(t, flagged, 1)
		assert.Equal(t, p.Reference, flagged[0].Reference)
		assert.Equal(t, "credit failed", flagged[0].ReconciliationReason)
		assert.Equal(t, model.PurchaseCompleted, flagged[0].Status)

		require.NoError(t, s.ClearReconciliation(ctx, p.Reference))
		flagged, err = s.ListNeedingReconciliation(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, flagged)

		require.ErrorIs(t, s.FlagReconciliation(ctx, "missing", "x"), repository.ErrNotFound)
	})

	t.Run("flagged failed purchase is not listed for repair", func(t *testing.T) {
		s := newStore(t)
		p := newPurchase("buyer-1")
		require.NoError(t, s.Create(ctx, p))
		_, err := s.MarkFailed(ctx, p.Reference, json.RawMessage(`{"reason":"expired"}`))
		require.NoError(t, err)
		require.NoError(t, s.FlagReconciliation(ctx, p.Reference, "charged after failure"))

		flagged, err := s.ListNeedingReconciliation(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, flagged)

		got, err := s.FindByReference(ctx, p.Reference)
		require.NoError(t, err)
		assert.True(t, got.NeedsReconciliation)
		assert.Equal(t, model.PurchaseFailed, got.Status)
	})

	t.Run("list pending before cutoff", func(t *testing.T) {
		s := newStore(t)
		pending := newPurchase("buyer-1")
		done := newPurchase("buyer-2")
		require.NoError(t, s.Create(ctx, pending))
		require.NoError(t, s.Create(ctx, done))
		_, err := s.MarkFailed(ctx, done.Reference, nil)
		require.NoError(t, err)

		stale, err := s.ListPendingBefore(ctx, time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, pending.Reference, stale[0].Reference)

		stale, err = s.ListPendingBefore(ctx, time.Now().Add(-time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}

func TestWalletStoreContract(t *testing.T, newStore func(t *testing.T) service.WalletStore) {
	ctx := context.Background()

	t.Run("new wallet is empty", func(t *testing.T) {
		s := newStore(t)
		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", w.PrincipalID)
		assert.Zero(t, w.Balance)

		txns, err := s.Transactions(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, txns)
	})

	t.Run("credit raises balance once per reference", func(t *testing.T) {
		s := newStore(t)
		txn, err := s.Credit(ctx, "alice", 7000, "ref-1", "Sale of course c1")
		require.NoError(t, err)
		assert.Equal(t, model.Credit, txn.Direction)
		assert.Equal(t, model.TxCompleted, txn.Status)

		_, err = s.Credit(ctx, "alice", 7000, "ref-1", "Sale of course c1")
		require.ErrorIs(t, err, repository.ErrDuplicateTransaction)

		// same reference, different principal is a separate entry
		_, err = s.Credit(ctx, "platform", 3000, "ref-1", "Platform share")
		require.NoError(t, err)

		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(7000), w.Balance)

		txns, err := s.Transactions(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, txns, 1)
	})

	t.Run("concurrent duplicate credits apply once", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for n := 0; n < 8; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Credit(ctx, "alice", 500, "ref-race", "race")
				if err != nil {
					assert.ErrorIs(t, err, repository.ErrDuplicateTransaction)
				}
			}()
		}
		wg.Wait()

		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(500), w.Balance)
	})

	t.Run("concurrent credits all land", func(t *testing.T) {
		s := newStore(t)
		const workers = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Credit(ctx, "alice", int64(100*(i+1)), uuid.NewString(), "sale")
				assert.NoError(t, err, "worker %d", i)
			}()
		}
		wg.Wait()

		// 100 + 200 + ... + 1000
		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(5500), w.Balance)

		txns, err := s.Transactions(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, txns, workers)
	})

	t.Run("reserve does not move balance", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Credit(ctx, "alice", 10000, "sale-1", "sale")
		require.NoError(t, err)

		txn, err := s.ReserveDebit(ctx, "alice", 4000, "wd-1", "Wallet withdrawal")
		require.NoError(t, err)
		assert.Equal(t, model.Debit, txn.Direction)
		assert.Equal(t, model.TxPending, txn.Status)

		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(10000), w.Balance)

		pending, err := s.HasPendingDebit(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, pending)
	})

	t.Run("reserve beyond balance", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Credit(ctx, "alice", 1000, "sale-1", "sale")
		require.NoError(t, err)

		_, err = s.ReserveDebit(ctx, "alice", 1001, "wd-1", "Wallet withdrawal")
		require.ErrorIs(t, err, repository.ErrInsufficientBalance)
	})

	t.Run("one pending debit per principal", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Credit(ctx, "alice", 10000, "sale-1", "sale")
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 6; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ReserveDebit(ctx, "alice", 1000, uuid.NewString(), "Wallet withdrawal")
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, repository.ErrDuplicatePendingDebit, "worker %d", i)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("settle success subtracts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Credit(ctx, "alice", 10000, "sale-1", "sale")
		require.NoError(t, err)
		_, err = s.ReserveDebit(ctx, "alice", 4000, "wd-1", "Wallet withdrawal")
		require.NoError(t, err)

		txn, err := s.SettleDebit(ctx, "wd-1", true)
		require.NoError(t, err)
		assert.Equal(t, model.TxCompleted, txn.Status)
		assert.NotNil(t, txn.SettledAt)

		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(6000), w.Balance)

		_, err = s.SettleDebit(ctx, "wd-1", true)
		require.ErrorIs(t, err, repository.ErrInvalidTransition)

		pending, err := s.HasPendingDebit(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, pending)
	})

	t.Run("settle failure releases", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Credit(ctx, "alice", 10000, "sale-1", "sale")
		require.NoError(t, err)
		_, err = s.ReserveDebit(ctx, "alice", 4000, "wd-1", "Wallet withdrawal")
		require.NoError(t, err)

		txn, err := s.SettleDebit(ctx, "wd-1", false)
		require.NoError(t, err)
		assert.Equal(t, model.TxFailed, txn.Status)

		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(10000), w.Balance)

		// the slot is free again
		_, err = s.ReserveDebit(ctx, "alice", 10000, "wd-2", "Wallet withdrawal")
		require.NoError(t, err)
	})

	t.Run("settle unknown debit", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SettleDebit(ctx, "nope", true)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ledger sums to balance", func(t *testing.T) {
		s := newStore(t)
		for i, amount := range []int64{1200, 800, 5000} {
			_, err := s.Credit(ctx, "alice", amount, uuid.NewString(), "sale")
			require.NoError(t, err, "credit %d", i)
		}
		_, err := s.ReserveDebit(ctx, "alice", 3000, "wd-1", "Wallet withdrawal")
		require.NoError(t, err)
		_, err = s.SettleDebit(ctx, "wd-1", true)
		require.NoError(t, err)
		_, err = s.ReserveDebit(ctx, "alice", 1000, "wd-2", "Wallet withdrawal")
		require.NoError(t, err)

		txns, err := s.Transactions(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, txns, 5)

		var sum int64
		for _, txn := range txns {
			switch {
			case txn.Direction == model.Credit && txn.Status == model.TxCompleted:
				sum += txn.Amount
			case txn.Direction == model.Debit && txn.Status == model.TxCompleted:
				sum -= txn.Amount
			}
		}
		w, err := s.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, sum, w.Balance)
		assert.Equal(t, int64(4000), w.Balance)
	})
}

func TestWithdrawalStoreContract(t *testing.T, newStore func(t *testing.T) service.WithdrawalStore) {
	ctx := context.Background()

	newWithdrawal := func() *model.Withdrawal {
		return &model.Withdrawal{
			ID:          uuid.NewString(),
			Reference:   uuid.NewString(),
			PrincipalID: "alice",
			Amount:      2500,
			Status:      model.WithdrawalRequested,
		}
	}

	t.Run("create and find", func(t *testing.T) {
		s := newStore(t)
		w := newWithdrawal()
		require.NoError(t, s.Create(ctx, w))
		assert.False(t, w.CreatedAt.IsZero())

		got, err := s.FindByReference(ctx, w.Reference)
		require.NoError(t, err)
		assert.Equal(t, model.WithdrawalRequested, got.Status)
		assert.Equal(t, int64(2500), got.Amount)

		require.ErrorIs(t, s.Create(ctx, w), repository.ErrDuplicateReference)
	})

	t.Run("status moves only from expected state", func(t *testing.T) {
		s := newStore(t)
		w := newWithdrawal()
		require.NoError(t, s.Create(ctx, w))

		got, err := s.UpdateStatus(ctx, w.Reference, model.WithdrawalRequested, model.WithdrawalTransferInitiated,
			repository.WithdrawalUpdate{RecipientCode: "RCP_1", TransferReference: "TRF_1"})
		require.NoError(t, err)
		assert.Equal(t, model.WithdrawalTransferInitiated, got.Status)
		assert.Equal(t, "RCP_1", got.RecipientCode)

		_, err = s.UpdateStatus(ctx, w.Reference, model.WithdrawalRequested, model.WithdrawalReversed, repository.WithdrawalUpdate{})
		require.ErrorIs(t, err, repository.ErrInvalidTransition)

		got, err = s.UpdateStatus(ctx, w.Reference, model.WithdrawalTransferInitiated, model.WithdrawalReversed,
			repository.WithdrawalUpdate{FailureReason: "transfer.failed"})
		require.NoError(t, err)
		assert.Equal(t, "transfer.failed", got.FailureReason)
		assert.Equal(t, "TRF_1", got.TransferReference)

		_, err = s.UpdateStatus(ctx, "missing", model.WithdrawalRequested, model.WithdrawalReversed, repository.WithdrawalUpdate{})
		require.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestCourseStoreContract(t *testing.T, newStore func(t *testing.T) CourseStore) {
	ctx := context.Background()

	t.Run("pricing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetCoursePricing(ctx, "course-1")
		require.ErrorIs(t, err, repository.ErrNotFound)

		require.NoError(t, s.UpsertCourse(ctx, model.CoursePricing{CourseID: "course-1", Price: 10000, DiscountPercent: 10, EducatorID: "edu"}))
		p, err := s.GetCoursePricing(ctx, "course-1")
		require.NoError(t, err)
		assert.Equal(t, int64(10000), p.Price)
		assert.Equal(t, int64(10), p.DiscountPercent)
		assert.Equal(t, "edu", p.EducatorID)
	})

	t.Run("enroll is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertCourse(ctx, model.CoursePricing{CourseID: "course-1", Price: 10000, EducatorID: "edu"}))

		enrolled, err := s.IsEnrolled(ctx, "bob", "course-1")
		require.NoError(t, err)
		assert.False(t, enrolled)

		require.NoError(t, s.Enroll(ctx, "bob", "course-1"))
		require.NoError(t, s.Enroll(ctx, "bob", "course-1"))

		enrolled, err = s.IsEnrolled(ctx, "bob", "course-1")
		require.NoError(t, err)
		assert.True(t, enrolled)
	})
}
