// Package mpesa adapts the Daraja STK-push API onto the shared provider
// contract. Callbacks carry no signature; verification is structural.
package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

// Result codes documented for STK push outcomes.
const (
	resultSuccess           = 0
	resultInsufficientFunds = 1
	resultCancelledByUser   = 1032
	resultTimeout           = 1037
)

var capabilities = providers.Capabilities{
	PushPayment:     true,
	B2C:             true,
	BalanceQuery:    true,
	Reversal:        true,
	WebhookDelivery: true,
}

// Adapter implements providers.Adapter over the Daraja API.
type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) ID() enums.Provider {
	return enums.ProviderMpesa
}

func (a *Adapter) Capabilities() providers.Capabilities {
	return capabilities
}

func (a *Adapter) SendPayment(ctx context.Context, req providers.PaymentRequest) (providers.PaymentResponse, error) {
	resp, err := a.client.StkPush(ctx, req.PhoneNumber, req.Amount.StringFixed(0), req.Reference, req.Description)
	if err != nil {
		return providers.PaymentResponse{}, err
	}

	if resp.ResponseCode != "0" {
		return providers.PaymentResponse{
			Success:   false,
			Reference: req.Reference,
			Status:    enums.PaymentStatusFailed,
			Message:   resp.ResponseDescription,
			Raw:       rawMap(resp),
		}, nil
	}

	// A push prompt was delivered; the outcome arrives via callback.
	return providers.PaymentResponse{
		Success:       true,
		TransactionID: resp.CheckoutRequestID,
		Reference:     req.Reference,
		Status:        enums.PaymentStatusProcessing,
		Message:       resp.CustomerMessage,
		Raw:           rawMap(resp),
	}, nil
}

func (a *Adapter) GetStatus(ctx context.Context, transactionID string) (providers.PaymentResponse, error) {
	resp, err := a.client.QueryStatus(ctx, transactionID)
	if err != nil {
		return providers.PaymentResponse{}, err
	}

	code, parseErr := strconv.Atoi(resp.ResultCode)
	if parseErr != nil {
		code = -1
	}
	status := mapResultCode(code)
	return providers.PaymentResponse{
		Success:       status == enums.PaymentStatusCompleted,
		TransactionID: transactionID,
		Status:        status,
		Message:       resp.ResultDesc,
		Raw:           rawMap(resp),
	}, nil
}

// stkCallbackEnvelope is the Daraja callback shape.
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value,omitempty"`
				} `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// VerifyCallback performs structural validation: the envelope must decode
// and carry the identifiers every genuine Daraja delivery has.
func (a *Adapter) VerifyCallback(raw []byte, _ string) error {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "malformed mpesa callback")
	}
	cb := envelope.Body.StkCallback
	if cb.CheckoutRequestID == "" || cb.MerchantRequestID == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "mpesa callback missing request identifiers")
	}
	return nil
}

func (a *Adapter) ParseCallback(raw []byte) (providers.WebhookCallback, error) {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return providers.WebhookCallback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode mpesa callback")
	}
	cb := envelope.Body.StkCallback

	out := providers.WebhookCallback{
		TransactionID: cb.CheckoutRequestID,
		Status:        mapResultCode(cb.ResultCode),
		Provider:      enums.ProviderMpesa,
		Raw:           raw,
	}
	if cb.ResultCode != resultSuccess {
		out.FailureReason = cb.ResultDesc
	}

	if cb.CallbackMetadata == nil {
		return out, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			switch v := item.Value.(type) {
			case float64:
				out.Amount = decimal.NewFromFloat(v)
			case string:
				if parsed, err := decimal.NewFromString(v); err == nil {
					out.Amount = parsed
				}
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				out.ReceiptNumber = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				out.PhoneNumber = strconv.FormatFloat(v, 'f', 0, 64)
			case string:
				out.PhoneNumber = v
			}
		case "TransactionDate":
			if v, ok := item.Value.(float64); ok {
				if at, err := time.Parse(timestampLayout, strconv.FormatFloat(v, 'f', 0, 64)); err == nil {
					out.CompletedAt = &at
				}
			}
		}
	}
	return out, nil
}

func (a *Adapter) GetBalance(ctx context.Context) (providers.Balance, error) {
	if _, err := a.client.QueryBalance(ctx); err != nil {
		return providers.Balance{}, err
	}
	// Daraja reports the figure asynchronously on the result URL; the
	// synchronous path only confirms the query was accepted.
	return providers.Balance{Currency: "KES"}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.token(ctx)
	return err
}

// mapResultCode folds the vendor vocabulary onto the shared enum.
// Unrecognized codes stay pending; a payment is never assumed completed.
func mapResultCode(code int) enums.PaymentStatus {
	switch code {
	case resultSuccess:
		return enums.PaymentStatusCompleted
	case resultCancelledByUser:
		return enums.PaymentStatusCancelled
	case resultInsufficientFunds, resultTimeout:
		return enums.PaymentStatusFailed
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
	if err := json.Unmarshal(encoded, &out); err != nil {
		return map[string]any{"raw": fmt.Sprintf("%v", v)}
	}
	return out
}
