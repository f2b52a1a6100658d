// Package gateway talks to the external payment processor over its HTTP API.
// Amounts are integer minor units. No method mutates local state.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/svirmi/coursepay/internal/model"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL           string
	SecretKey         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// MaxRetryElapsed bounds retries of idempotent reads. Zero disables retries.
	MaxRetryElapsed time.Duration
	Currency        string
}

type Client struct {
	baseURL      string
	secretKey    string
	currency     string
	httpClient   *http.Client
	limiter      *rate.Limiter
	retryElapsed time.Duration
	logger       *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:    cfg.SecretKey,
		currency:     cfg.Currency,
		httpClient:   &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(limit, burst),
		retryElapsed: cfg.MaxRetryElapsed,
		logger:       logger,
	}
}

type InitializeRequest struct {
	Email       string
	Amount      int64
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

type InitializeResult struct {
	CheckoutURL string `json:"authorization_url"`
	AccessCode  string `json:"access_code"`
	Reference   string `json:"reference"`
}

// Initialize asks the processor for a checkout page for reference.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body := map[string]any{
		"email":        req.Email,
		"amount":       req.Amount,
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
	}
	if c.currency != "" {
		body["currency"] = c.currency
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out InitializeResult
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if out.CheckoutURL == "" {
		return nil, &Error{Op: "initialize", Message: "missing authorization_url", Retryable: false}
	}
	return &out, nil
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	// OutcomeUnknown means the processor has not reached a final answer yet.
	OutcomeUnknown Outcome = "unknown"
)

type VerifyResult struct {
	Outcome       Outcome
	Status        string
	Amount        int64
	ExternalTxnID string
	Metadata      json.RawMessage
	// Raw is the processor's data object as received.
	Raw json.RawMessage
}

func (v VerifyResult) Success() bool { return v.Outcome == OutcomeSuccess }

type verifyData struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

// Verify asks the processor for the final state of reference. It is safe to
// call any number of times; transient failures are retried with backoff.
func (c *Client) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	path := "/transaction/verify/" + url.PathEscape(reference)

	var raw json.RawMessage
	op := func() error {
		err := c.do(ctx, "verify", http.MethodGet, path, nil, &raw)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := c.retry(ctx, op); err != nil {
		return nil, err
	}

	var data verifyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, &Error{Op: "verify", Message: "malformed data object", Err: err}
	}

	res := &VerifyResult{
		Outcome:  classifyStatus(data.Status),
		Status:   data.Status,
		Amount:   data.Amount,
		Metadata: data.Metadata,
		Raw:      raw,
	}
	if data.ID != 0 {
		res.ExternalTxnID = fmt.Sprintf("%d", data.ID)
	}
	return res, nil
}

func classifyStatus(status string) Outcome {
	switch strings.ToLower(status) {
	case "success":
		return OutcomeSuccess
	case "failed", "reversed":
		return OutcomeFailed
	default:
		// abandoned is what an unpaid checkout verifies as; the buyer can
		// still complete it
		return OutcomeUnknown
	}
}

// CreateTransferRecipient registers a bank account as a payout destination.
func (c *Client) CreateTransferRecipient(ctx context.Context, bank model.BankDetails) (string, error) {
	body := map[string]any{
		"type":           "nuban",
		"name":           bank.Name,
		"account_number": bank.AccountNumber,
		"bank_code":      bank.BankCode,
	}
	if c.currency != "" {
		body["currency"] = c.currency
	}

	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	op := func() error {
		err := c.do(ctx, "create_recipient", http.MethodPost, "/transferrecipient", body, &out)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := c.retry(ctx, op); err != nil {
		return "", err
	}
	if out.RecipientCode == "" {
		return "", &Error{Op: "create_recipient", Message: "missing recipient_code"}
	}
	return out.RecipientCode, nil
}

type TransferResult struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// InitiateTransfer sends amount to recipientCode. reference is passed to the
// processor so its transfer webhooks can be matched back to the withdrawal.
func (c *Client) InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (*TransferResult, error) {
	body := map[string]any{
		"source":    "balance",
		"recipient": recipientCode,
		"amount":    amount,
		"reference": reference,
		"reason":    reason,
	}
	if c.currency != "" {
		body["currency"] = c.currency
	}

	var out TransferResult
	if err := c.do(ctx, "transfer", http.MethodPost, "/transfer", body, &out); err != nil {
		return nil, err
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return &out, nil
}

func (c *Client) retry(ctx context.Context, op backoff.Operation) error {
	if c.retryElapsed <= 0 {
		err := op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	b := backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(c.retryElapsed))
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Retryable: true, Err: err}
	}

	var reqBody io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Message: "failed to encode request", Err: err}
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &Error{Op: op, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	c.logger.Debug("gateway call",
		"op", op, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message, Retryable: true}
	case resp.StatusCode >= 400:
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	case decodeErr != nil:
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Retryable: true, Err: decodeErr}
	case !env.Status:
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: env.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "malformed data object", Err: err}
	}
	return nil
}
