package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const SignatureHeader = "X-Paystack-Signature"

// Webhook event names the service reacts to.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	// Reference is lifted out of Data; it is the only field the service trusts.
	Reference string `json:"-"`
}

// Sign returns the hex HMAC-SHA512 of body keyed with the secret.
func (c *Client) Sign(body []byte) string {
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook body against the processor's signature header.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if signature == "" || c.secretKey == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(c.Sign(body))
	return hmac.Equal(got, want)
}

func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	var data struct {
		Reference string `json:"reference"`
	}
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid webhook data: %w", err)
		}
	}
	ev.Reference = data.Reference
	return &ev, nil
}
