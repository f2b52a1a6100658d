package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

type WalletStore struct {
	mu      sync.Mutex
	wallets map[string]*model.Wallet
	nextID  uint64
	now     func() time.Time
}

func NewWalletStore() *WalletStore {
	return &WalletStore{
		wallets: make(map[string]*model.Wallet),
		now:     time.Now,
	}
}

func (s *WalletStore) GetOrCreate(_ context.Context, principalID string) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(principalID)
	cp := *w
	cp.Transactions = nil
	return &cp, nil
}

func (s *WalletStore) Credit(_ context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(principalID)
	for _, t := range w.Transactions {
		if t.Reference == reference {
			return nil, repository.ErrDuplicateTransaction
		}
	}
	now := s.now().UTC()
	txn := s.appendLocked(w, model.Credit, amount, reference, description, model.TxCompleted)
	txn.SettledAt = &now
	w.Balance += amount
	w.UpdatedAt = now
	cp := *txn
	return &cp, nil
}

func (s *WalletStore) ReserveDebit(_ context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(principalID)
	if amount > w.Balance {
		return nil, repository.ErrInsufficientBalance
	}
	for _, t := range w.Transactions {
		if t.Direction == model.Debit && t.Status == model.TxPending {
			return nil, repository.ErrDuplicatePendingDebit
		}
		if t.Reference == reference {
			return nil, repository.ErrDuplicateTransaction
		}
	}
	cp := *s.appendLocked(w, model.Debit, amount, reference, description, model.TxPending)
	return &cp, nil
}

func (s *WalletStore) SettleDebit(_ context.Context, reference string, success bool) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		for i := range w.Transactions {
			t := &w.Transactions[i]
			if t.Reference != reference || t.Direction != model.Debit {
				continue
			}
			if t.Status != model.TxPending {
				return nil, repository.ErrInvalidTransition
			}
			now := s.now().UTC()
			if success {
				if t.Amount > w.Balance {
					return nil, repository.ErrInsufficientBalance
				}
				w.Balance -= t.Amount
				w.UpdatedAt = now
				t.Status = model.TxCompleted
			} else {
				t.Status = model.TxFailed
			}
			t.SettledAt = &now
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *WalletStore) HasPendingDebit(_ context.Context, principalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[principalID]
	if !ok {
		return false, nil
	}
	for _, t := range w.Transactions {
		if t.Direction == model.Debit && t.Status == model.TxPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *WalletStore) Transactions(_ context.Context, principalID string) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[principalID]
	if !ok {
		return []model.Transaction{}, nil
	}
	return append([]model.Transaction{}, w.Transactions...), nil
}

func (s *WalletStore) walletLocked(principalID string) *model.Wallet {
	w, ok := s.wallets[principalID]
	if !ok {
		now := s.now().UTC()
		w = &model.Wallet{PrincipalID: principalID, CreatedAt: now, UpdatedAt: now}
		s.wallets[principalID] = w
	}
	return w
}

func (s *WalletStore) appendLocked(w *model.Wallet, dir model.Direction, amount int64, reference, description string, status model.TransactionStatus) *model.Transaction {
	s.nextID++
	w.Transactions = append(w.Transactions, model.Transaction{
		ID:          s.nextID,
		PrincipalID: w.PrincipalID,
		Direction:   dir,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		Status:      status,
		CreatedAt:   s.now().UTC(),
	})
	return &w.Transactions[len(w.Transactions)-1]
}
