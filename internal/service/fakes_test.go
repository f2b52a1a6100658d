package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/model"
	"github.com/svirmi/coursepay/internal/repository/memstore"
)

var errStoreDown = errors.New("store unavailable")

// fakeGateway stands in for the payment processor and counts calls.
type fakeGateway struct {
	mu sync.Mutex

	initErr     error
	initReqs    []gateway.InitializeRequest
	verifyRes   gateway.VerifyResult
	verifyErr   error
	verifyCalls int

	recipientErr   error
	recipientCalls int
	transferErr    error
	transferStatus string
	transferCalls  int
}

func (g *fakeGateway) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.InitializeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initReqs = append(g.initReqs, req)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.InitializeResult{
		CheckoutURL: "https://checkout.example/" + req.Reference,
		AccessCode:  "ac_" + req.Reference,
		Reference:   req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, _ string) (*gateway.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	res := g.verifyRes
	return &res, nil
}

func (g *fakeGateway) succeed(amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyErr = nil
	g.verifyRes = gateway.VerifyResult{
		Outcome:       gateway.OutcomeSuccess,
		Status:        "success",
		Amount:        amount,
		ExternalTxnID: "4099260516",
		Raw:           json.RawMessage(`{"status":"success"}`),
	}
}

func (g *fakeGateway) respond(outcome gateway.Outcome, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyErr = nil
	g.verifyRes = gateway.VerifyResult{
		Outcome: outcome,
		Status:  status,
		Raw:     json.RawMessage(`{"status":"` + status + `"}`),
	}
}

func (g *fakeGateway) verifies() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

func (g *fakeGateway) CreateTransferRecipient(_ context.Context, bank model.BankDetails) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recipientCalls++
	if g.recipientErr != nil {
		return "", g.recipientErr
	}
	return "RCP_" + bank.AccountNumber, nil
}

func (g *fakeGateway) InitiateTransfer(_ context.Context, _ string, _ int64, reference, _ string) (*gateway.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls++
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	status := g.transferStatus
	if status == "" {
		status = "pending"
	}
	return &gateway.TransferResult{Reference: reference, TransferCode: "TRF_" + reference, Status: status}, nil
}

// flakyWallets fails credits to one principal until healed.
type flakyWallets struct {
	*memstore.WalletStore

	mu     sync.Mutex
	failTo string
}

func (w *flakyWallets) Credit(ctx context.Context, principalID string, amount int64, reference, description string) (*model.Transaction, error) {
	w.mu.Lock()
	fail := principalID == w.failTo
	w.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return w.WalletStore.Credit(ctx, principalID, amount, reference, description)
}

func (w *flakyWallets) heal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failTo = ""
}

// countingCatalog counts pricing reads that reach the store.
type countingCatalog struct {
	*memstore.CourseStore

	mu    sync.Mutex
	reads int
}

func (c *countingCatalog) GetCoursePricing(ctx context.Context, courseID string) (*model.CoursePricing, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.CourseStore.GetCoursePricing(ctx, courseID)
}
