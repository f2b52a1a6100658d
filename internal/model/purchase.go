package model

import (
	"encoding/json"
	"time"
)

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Terminal reports whether no further status transition is allowed.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseCompleted || s == PurchaseFailed
}

// Purchase is a buyer's intent to pay for a course. Reference is the
// idempotency key shared with the payment processor.
type Purchase struct {
	ID                   string          `json:"id"`
	Reference            string          `json:"reference"`
	BuyerID              string          `json:"buyer_id"`
	CourseID             string          `json:"course_id"`
	EducatorID           string          `json:"educator_id"`
	GrossAmount          int64           `json:"gross_amount"`
	NetAmount            int64           `json:"net_amount"`
	Status               PurchaseStatus  `json:"status"`
	ExternalTxnID        string          `json:"external_txn_id,omitempty"`
	VerificationPayload  json.RawMessage `json:"verification_payload,omitempty"`
	NeedsReconciliation  bool            `json:"needs_reconciliation"`
	ReconciliationReason string          `json:"reconciliation_reason,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// CoursePricing is what the course store knows about a course's price.
// Price is in minor units.
type CoursePricing struct {
	CourseID        string `json:"course_id"`
	Price           int64  `json:"price"`
	DiscountPercent int64  `json:"discount_percent"`
	EducatorID      string `json:"educator_id"`
}

type PurchaseRequest struct {
	CourseID string `json:"courseId"`
}

type PurchaseResponse struct {
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkoutUrl"`
	Amount      int64  `json:"amount"`
}

type SettlementResponse struct {
	Reference string         `json:"reference"`
	Status    PurchaseStatus `json:"status"`
	Message   string         `json:"message"`
}
