// Package memstore holds in-memory stores with the same transition and
// reservation rules as the Postgres repositories. A single mutex per store
// stands in for row locks.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository"
)

type PurchaseStore struct {
	mu        sync.Mutex
	purchases map[string]*model.Purchase
	now       func() time.Time
}

func NewPurchaseStore() *PurchaseStore {
	return &PurchaseStore{
		purchases: make(map[string]*model.Purchase),
		now:       time.Now,
	}
}

// WithClock overrides the store's time source.
func (s *PurchaseStore) WithClock(now func() time.Time) *PurchaseStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *PurchaseStore) Create(_ context.Context, p *model.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.purchases[p.Reference]; ok {
		return repository.ErrDuplicateReference
	}
	p.Status = model.PurchasePending
	p.CreatedAt = s.now().UTC()
	cp := *p
	s.purchases[p.Reference] = &cp
	return nil
}

func (s *PurchaseStore) FindByReference(_ context.Context, reference string) (*model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (s *PurchaseStore) MarkCompleted(_ context.Context, reference, externalTxnID string, payload json.RawMessage) (*model.Purchase, error) {
	return s.transition(reference, model.PurchaseCompleted, externalTxnID, payload)
}

func (s *PurchaseStore) MarkFailed(_ context.Context, reference string, payload json.RawMessage) (*model.Purchase, error) {
	return s.transition(reference, model.PurchaseFailed, "", payload)
}

func (s *PurchaseStore) transition(reference string, to model.PurchaseStatus, externalTxnID string, payload json.RawMessage) (*model.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if p.Status != model.PurchasePending {
		return nil, repository.ErrInvalidTransition
	}
	now := s.now().UTC()
	p.Status = to
	p.ExternalTxnID = externalTxnID
	p.VerificationPayload = append(json.RawMessage(nil), payload...)
	p.CompletedAt = &now
	return clonePurchase(p), nil
}

func (s *PurchaseStore) FlagReconciliation(_ context.Context, reference, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[reference]
	if !ok {
		return repository.ErrNotFound
	}
	p.NeedsReconciliation = true
	p.ReconciliationReason = reason
	return nil
}

func (s *PurchaseStore) ClearReconciliation(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.purchases[reference]
	if !ok {
		return repository.ErrNotFound
	}
	p.NeedsReconciliation = false
	p.ReconciliationReason = ""
	return nil
}

func (s *PurchaseStore) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]model.Purchase, error) {
	return s.list(limit, func(p *model.Purchase) bool {
		return p.Status == model.PurchasePending && p.CreatedAt.Before(cutoff)
	}), nil
}

func (s *PurchaseStore) ListNeedingReconciliation(_ context.Context, limit int) ([]model.Purchase, error) {
	return s.list(limit, func(p *model.Purchase) bool {
		return p.NeedsReconciliation && p.Status == model.PurchaseCompleted
	}), nil
}

func (s *PurchaseStore) list(limit int, match func(*model.Purchase) bool) []model.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Purchase
	for _, p := range s.purchases {
		if match(p) {
			out = append(out, *clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clonePurchase(p *model.Purchase) *model.Purchase {
	cp := *p
	if p.VerificationPayload != nil {
		cp.VerificationPayload = append(json.RawMessage(nil), p.VerificationPayload...)
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
