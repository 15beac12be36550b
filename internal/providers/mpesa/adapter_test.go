package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

type routedDoer struct {
	responses map[string]string
	requests  []*http.Request
}

func (d *routedDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	for path, body := range d.responses {
		if strings.Contains(req.URL.Path, path) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewBufferString(body)),
				Header:     http.Header{"Content-Type": []string{"application/json"}},
			}, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(bytes.NewBufferString(`{}`)),
	}, nil
}

func testConfig() config.MpesaConfig {
	return config.MpesaConfig{
		BaseURL:         "https://sandbox.safaricom.co.ke",
		ConsumerKey:     "key",
		ConsumerSecret:  "secret",
		ShortCode:       "174379",
		PassKey:         "passkey",
		CallbackBaseURL: "https://api.nyumbapay.co.ke",
	}
}

func TestSendPaymentDeliversPushPrompt(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"/oauth/":   `{"access_token":"token-1","expires_in":"3599"}`,
		"/stkpush/": `{"MerchantRequestID":"mr-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Enter PIN"}`,
	}}
	adapter := NewAdapter(NewClient(testConfig(), doer))

	resp, err := adapter.SendPayment(context.Background(), providers.PaymentRequest{
		PhoneNumber: "254701234567",
		Amount:      decimal.NewFromInt(15000),
		Reference:   "RENT-2026-08-abc-0001",
		Description: "Rent for 2026-08",
	})
	if err != nil {
		t.Fatalf("SendPayment: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Success = false, message %q", resp.Message)
	}
	if resp.TransactionID != "ws_CO_1" {
		t.Fatalf("TransactionID = %q, want checkout request id", resp.TransactionID)
	}
	// The prompt was delivered; settlement arrives via callback.
	if resp.Status != enums.PaymentStatusProcessing {
		t.Fatalf("Status = %s, want processing", resp.Status)
	}

	var push map[string]any
	last := doer.requests[len(doer.requests)-1]
	if err := json.NewDecoder(last.Body).Decode(&push); err != nil {
		t.Fatalf("decode push request: %v", err)
	}
	if push["Amount"] != "15000" {
		t.Fatalf("Amount = %v, want whole shillings", push["Amount"])
	}
	if push["CallBackURL"] != "https://api.nyumbapay.co.ke/api/v1/webhooks/mpesa" {
		t.Fatalf("CallBackURL = %v", push["CallBackURL"])
	}
}

func TestSendPaymentRejectedByGateway(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"/oauth/":   `{"access_token":"token-1","expires_in":"3599"}`,
		"/stkpush/": `{"ResponseCode":"1","ResponseDescription":"Invalid PhoneNumber"}`,
	}}
	adapter := NewAdapter(NewClient(testConfig(), doer))

	resp, err := adapter.SendPayment(context.Background(), providers.PaymentRequest{
		PhoneNumber: "254701234567",
		Amount:      decimal.NewFromInt(100),
		Reference:   "REF-1",
	})
	if err != nil {
		t.Fatalf("SendPayment: %v", err)
	}
	if resp.Success {
		t.Fatal("gateway rejection must not read as success")
	}
	if resp.Status != enums.PaymentStatusFailed {
		t.Fatalf("Status = %s, want failed", resp.Status)
	}
	if resp.Message != "Invalid PhoneNumber" {
		t.Fatalf("Message = %q", resp.Message)
	}
}

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "mr-1",
      "CheckoutRequestID": "ws_CO_1",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 15000.00},
          {"Name": "MpesaReceiptNumber", "Value": "SAB12CD34E"},
          {"Name": "TransactionDate", "Value": 20260805100000},
          {"Name": "PhoneNumber", "Value": 254701234567}
        ]
      }
    }
  }
}`

func TestVerifyCallback(t *testing.T) {
	adapter := NewAdapter(NewClient(testConfig(), &routedDoer{}))

	if err := adapter.VerifyCallback([]byte(successCallback), ""); err != nil {
		t.Fatalf("VerifyCallback rejected genuine payload: %v", err)
	}
	if err := adapter.VerifyCallback([]byte(`not json`), ""); err == nil {
		t.Fatal("malformed payload must be rejected")
	}
	if err := adapter.VerifyCallback([]byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`), ""); err == nil {
		t.Fatal("payload without request identifiers must be rejected")
	}
}

func TestParseCallbackExtractsMetadata(t *testing.T) {
	adapter := NewAdapter(NewClient(testConfig(), &routedDoer{}))

	callback, err := adapter.ParseCallback([]byte(successCallback))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if callback.TransactionID != "ws_CO_1" {
		t.Fatalf("TransactionID = %q", callback.TransactionID)
	}
	if callback.Status != enums.PaymentStatusCompleted {
		t.Fatalf("Status = %s, want completed", callback.Status)
	}
	if callback.ReceiptNumber != "SAB12CD34E" {
		t.Fatalf("ReceiptNumber = %q", callback.ReceiptNumber)
	}
	if !callback.Amount.Equal(decimal.NewFromInt(15000)) {
		t.Fatalf("Amount = %s, want 15000", callback.Amount)
	}
	if callback.PhoneNumber != "254701234567" {
		t.Fatalf("PhoneNumber = %q", callback.PhoneNumber)
	}
	if callback.CompletedAt == nil {
		t.Fatal("CompletedAt not parsed from TransactionDate")
	}
	if callback.FailureReason != "" {
		t.Fatalf("FailureReason = %q, want empty on success", callback.FailureReason)
	}
}

func TestParseCallbackCancellation(t *testing.T) {
	adapter := NewAdapter(NewClient(testConfig(), &routedDoer{}))

	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"mr-2","CheckoutRequestID":"ws_CO_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`
	callback, err := adapter.ParseCallback([]byte(payload))
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if callback.Status != enums.PaymentStatusCancelled {
		t.Fatalf("Status = %s, want cancelled", callback.Status)
	}
	if callback.FailureReason != "Request cancelled by user" {
		t.Fatalf("FailureReason = %q", callback.FailureReason)
	}
}

func TestMapResultCodeUnknownStaysPending(t *testing.T) {
	cases := []struct {
		code int
		want enums.PaymentStatus
	}{
		{0, enums.PaymentStatusCompleted},
		{1, enums.PaymentStatusFailed},
		{1032, enums.PaymentStatusCancelled},
		{1037, enums.PaymentStatusFailed},
		{2001, enums.PaymentStatusPending},
		{-99, enums.PaymentStatusPending},
	}
	for _, tc := range cases {
		if got := mapResultCode(tc.code); got != tc.want {
			t.Errorf("mapResultCode(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"/oauth/":   `{"access_token":"token-1","expires_in":"3599"}`,
		"/stkpush/": `{"CheckoutRequestID":"ws_CO_1","ResponseCode":"0"}`,
	}}
	adapter := NewAdapter(NewClient(testConfig(), doer))

	for i := 0; i < 3; i++ {
		if _, err := adapter.SendPayment(context.Background(), providers.PaymentRequest{
			PhoneNumber: "254701234567",
			Amount:      decimal.NewFromInt(100),
			Reference:   "REF-1",
		}); err != nil {
			t.Fatalf("SendPayment %d: %v", i, err)
		}
	}

	tokenFetches := 0
	for _, req := range doer.requests {
		if strings.Contains(req.URL.Path, "/oauth/") {
			tokenFetches++
		}
	}
	if tokenFetches != 1 {
		t.Fatalf("token fetches = %d, want 1 (cached)", tokenFetches)
	}
}
