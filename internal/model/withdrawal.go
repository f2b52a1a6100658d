package model

import "time"

type WithdrawalStatus string

const (
	WithdrawalRequested         WithdrawalStatus = "requested"
	WithdrawalTransferInitiated WithdrawalStatus = "transfer_initiated"
	WithdrawalSettled           WithdrawalStatus = "settled"
	WithdrawalReversed          WithdrawalStatus = "reversed"
)

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalSettled || s == WithdrawalReversed
}

// Withdrawal tracks one payout of wallet funds to a bank account. Reference
// is shared by the pending debit transaction and the processor transfer.
type Withdrawal struct {
	ID                string           `json:"id"`
	Reference         string           `json:"reference"`
	PrincipalID       string           `json:"principal_id"`
	Amount            int64            `json:"amount"`
	RecipientCode     string           `json:"recipient_code,omitempty"`
	TransferReference string           `json:"transfer_reference,omitempty"`
	Status            WithdrawalStatus `json:"status"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type BankDetails struct {
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	BankCode      string `json:"bankCode"`
}

type WithdrawalRequest struct {
	Amount int64       `json:"amount"`
	Bank   BankDetails `json:"bank"`
}
