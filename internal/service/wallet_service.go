package service

import (
	"context"

	"github.com/svirmi/coursepay/internal/model"
)

// WalletService handles queries about wallet state.
type WalletService struct {
	wallets WalletStore
}

func NewWalletService(wallets WalletStore) *WalletService {
	return &WalletService{wallets: wallets}
}

// GetWallet returns the balance and ledger for the given principal.
func (s *WalletService) GetWallet(ctx context.Context, principalID string) (*model.WalletResponse, error) {
	w, err := s.wallets.GetOrCreate(ctx, principalID)
	if err != nil {
		return nil, err
	}
	txns, err := s.wallets.Transactions(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return &model.WalletResponse{
		PrincipalID:  w.PrincipalID,
		Balance:      w.Balance,
		Transactions: txns,
	}, nil
}
