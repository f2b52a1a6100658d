package model

import "time"

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Wallet holds a principal's balance in minor units. Pending debits are
// reserved against Balance but not subtracted until settled.
type Wallet struct {
	PrincipalID  string        `json:"principal_id"`
	Balance      int64         `json:"balance"`
	Transactions []Transaction `json:"transactions,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Transaction struct {
	ID          uint64            `json:"id"`
	PrincipalID string            `json:"principal_id"`
	Direction   Direction         `json:"direction"`
	Amount      int64             `json:"amount"`
	Reference   string            `json:"reference"`
	Description string            `json:"description"`
	Status      TransactionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	SettledAt   *time.Time        `json:"settled_at,omitempty"`
}

type WalletResponse struct {
	PrincipalID  string        `json:"principalId"`
	Balance      int64         `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
