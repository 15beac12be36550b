// Package airtel adapts the Airtel Money Open API onto the shared provider
// contract. Callbacks are authenticated with an HMAC-SHA256 signature
// carried in the X-Auth-Signature header.
package airtel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

// SignatureHeader carries the callback HMAC.
const SignatureHeader = "X-Auth-Signature"

var capabilities = providers.Capabilities{
	PushPayment:     true,
	B2C:             true,
	B2B:             true,
	BalanceQuery:    true,
	WebhookDelivery: true,
}

// Adapter implements providers.Adapter over the Airtel Money API.
type Adapter struct {
	client        *Client
	signingSecret string
}

func NewAdapter(client *Client, signingSecret string) *Adapter {
	return &Adapter{client: client, signingSecret: signingSecret}
}

func (a *Adapter) ID() enums.Provider {
	return enums.ProviderAirtel
}

func (a *Adapter) Capabilities() providers.Capabilities {
	return capabilities
}

func (a *Adapter) SendPayment(ctx context.Context, req providers.PaymentRequest) (providers.PaymentResponse, error) {
	// Airtel expects the bare subscriber number without country code.
	msisdn := strings.TrimPrefix(req.PhoneNumber, "254")
	resp, err := a.client.Push(ctx, msisdn, req.Amount.StringFixed(2), req.Reference)
	if err != nil {
		return providers.PaymentResponse{}, err
	}

	if !resp.Status.Success {
		return providers.PaymentResponse{
			Success:   false,
			Reference: req.Reference,
			Status:    enums.PaymentStatusFailed,
			Message:   resp.Status.Message,
			Raw:       rawMap(resp),
		}, nil
	}

	return providers.PaymentResponse{
		Success:       true,
		TransactionID: resp.Data.Transaction.ID,
		Reference:     req.Reference,
		Status:        mapStatus(resp.Data.Transaction.Status),
		Message:       resp.Status.Message,
		Raw:           rawMap(resp),
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, transactionID string) (providers.PaymentResponse, error) {
	resp, err := a.client.Status(ctx, transactionID)
	if err != nil {
		return providers.PaymentResponse{}, err
	}
	status := mapStatus(resp.Data.Transaction.Status)
	return providers.PaymentResponse{
		Success:       status == enums.PaymentStatusCompleted,
		TransactionID: resp.Data.Transaction.ID,
		Status:        status,
		Message:       resp.Data.Transaction.Message,
		Raw:           rawMap(resp),
	}, nil
}

// VerifyCallback recomputes the HMAC over the raw body and compares it to
// the header value in constant time.
func (a *Adapter) VerifyCallback(raw []byte, signature string) error {
	if a.signingSecret == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "airtel signing secret not configured")
	}
	if signature == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "airtel callback signature missing")
	}
	mac := hmac.New(sha256.New, []byte(a.signingSecret))
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "airtel callback signature mismatch")
	}
	return nil
}

type callbackEnvelope struct {
	Transaction struct {
		ID            string `json:"id"`
		AirtelMoneyID string `json:"airtel_money_id"`
		Amount        string `json:"amount"`
		MSISDN        string `json:"msisdn"`
		StatusCode    string `json:"status_code"`
		Message       string `json:"message"`
	} `json:"transaction"`
}

func (a *Adapter) ParseCallback(raw []byte) (providers.WebhookCallback, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return providers.WebhookCallback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode airtel callback")
	}
	tx := envelope.Transaction

	out := providers.WebhookCallback{
		TransactionID: tx.ID,
		Reference:     tx.ID,
		Status:        mapStatus(tx.StatusCode),
		PhoneNumber:   tx.MSISDN,
		ReceiptNumber: tx.AirtelMoneyID,
		Provider:      enums.ProviderAirtel,
		Raw:           raw,
	}
	if amount, err := decimal.NewFromString(tx.Amount); err == nil {
		out.Amount = amount
	}
	if out.Status == enums.PaymentStatusFailed {
		out.FailureReason = tx.Message
	}
	return out, nil
}

func (a *Adapter) GetBalance(ctx context.Context) (providers.Balance, error) {
	resp, err := a.client.Balance(ctx)
	if err != nil {
		return providers.Balance{}, err
	}
	available, err := decimal.NewFromString(resp.Data.Balance)
	if err != nil {
		return providers.Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse airtel balance")
	}
	currency := resp.Data.Currency
	if currency == "" {
		currency = "KES"
	}
	return providers.Balance{Currency: currency, Available: available}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.token(ctx)
	return err
}

// mapStatus folds Airtel's vocabulary onto the shared enum. Unknown values
// stay pending rather than being promoted to completed.
func mapStatus(vendor string) enums.PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(vendor)) {
	case "TS", "SUCCESS", "COMPLETED":
		return enums.PaymentStatusCompleted
	case "TF", "FAILED":
		return enums.PaymentStatusFailed
	case "TIP", "PENDING", "PROCESSING", "INITIATED":
		return enums.PaymentStatusProcessing
	case "CANCELLED":
		return enums.PaymentStatusCancelled
	case "REFUNDED", "REVERSED":
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusPending
	}
}

func rawMap(v any) map[string]any {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	out := map[string]any{}
	_ = json.Unmarshal(encoded, &out)
	return out
}
