package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

type WithdrawalStore struct {
	mu          sync.Mutex
	withdrawals map[string]*model.Withdrawal
}

func NewWithdrawalStore() *WithdrawalStore {
	return &WithdrawalStore{withdrawals: make(map[string]*model.Withdrawal)}
}

func (s *WithdrawalStore) Create(_ context.Context, w *model.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.withdrawals[w.Reference]; ok {
		return repository.ErrDuplicateReference
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	cp := *w
	s.withdrawals[w.Reference] = &cp
	return nil
}

func (s *WithdrawalStore) FindByReference(_ context.Context, reference string) (*model.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *WithdrawalStore) UpdateStatus(_ context.Context, reference string, from, to model.WithdrawalStatus, upd repository.WithdrawalUpdate) (*model.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if w.Status != from {
		return nil, repository.ErrInvalidTransition
	}
	w.Status = to
	if upd.RecipientCode != "" {
		w.RecipientCode = upd.RecipientCode
	}
	if upd.TransferReference != "" {
		w.TransferReference = upd.TransferReference
	}
	if upd.FailureReason != "" {
		w.FailureReason = upd.FailureReason
	}
	w.UpdatedAt = time.Now().UTC()
	cp := *w
	return &cp, nil
}
