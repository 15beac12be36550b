package pesalink

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

type fakeDoer struct {
	body     string
	status   int
	requests []*http.Request
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(d.body)),
	}, nil
}

func testAdapter(doer providers.HTTPDoer) *Adapter {
	return NewAdapter(config.PesalinkConfig{
		BaseURL:       "https://pesalink.example.com",
		APIKey:        "pk_test",
		AccountNumber: "0100200300",
	}, doer)
}

func TestSendBatchAcknowledgesEachItem(t *testing.T) {
	doer := &fakeDoer{body: `{
		"transfers": [
			{"transfer_id": "PL-1", "reference": "REF-0001", "status": "ACCEPTED"},
			{"transfer_id": "PL-2", "reference": "REF-0002", "status": "REJECTED", "message": "account closed"}
		]
	}`}
	adapter := testAdapter(doer)

	resps, err := adapter.SendBatch(context.Background(), []providers.PaymentRequest{
		{PhoneNumber: "254701234567", Amount: decimal.NewFromInt(15000), Reference: "REF-0001"},
		{PhoneNumber: "254722222222", Amount: decimal.NewFromInt(20000), Reference: "REF-0002"},
	})
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if len(resps) != 2 {
		t.Fatalf("responses = %d, want 2", len(resps))
	}
	if !resps[0].Success || resps[0].Status != enums.PaymentStatusProcessing {
		t.Fatalf("first item = %+v, want accepted/processing", resps[0])
	}
	if resps[1].Success || resps[1].Status != enums.PaymentStatusFailed {
		t.Fatalf("second item = %+v, want rejected/failed", resps[1])
	}
	if resps[1].Message != "account closed" {
		t.Fatalf("Message = %q", resps[1].Message)
	}

	req := doer.requests[0]
	if got := req.Header.Get("X-Api-Key"); got != "pk_test" {
		t.Fatalf("X-Api-Key = %q", got)
	}
	var sent struct {
		Transfers []map[string]any `json:"transfers"`
	}
	if err := json.NewDecoder(req.Body).Decode(&sent); err != nil {
		t.Fatalf("decode batch body: %v", err)
	}
	if len(sent.Transfers) != 2 {
		t.Fatalf("submitted transfers = %d, want 2", len(sent.Transfers))
	}
	if sent.Transfers[0]["source_account"] != "0100200300" {
		t.Fatalf("source_account = %v", sent.Transfers[0]["source_account"])
	}
	if sent.Transfers[0]["amount"] != "15000.00" {
		t.Fatalf("amount = %v, want two decimal places", sent.Transfers[0]["amount"])
	}
}

func TestCallbacksAreRefused(t *testing.T) {
	adapter := testAdapter(&fakeDoer{body: `{}`})

	if adapter.Capabilities().WebhookDelivery {
		t.Fatal("bank rail must not advertise webhook delivery")
	}
	if err := adapter.VerifyCallback([]byte(`{}`), ""); err == nil {
		t.Fatal("VerifyCallback must refuse")
	}
	if _, err := adapter.ParseCallback([]byte(`{}`)); err == nil {
		t.Fatal("ParseCallback must refuse")
	}
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		vendor string
		want   enums.PaymentStatus
	}{
		{"SETTLED", enums.PaymentStatusCompleted},
		{"REJECTED", enums.PaymentStatusFailed},
		{"QUEUED", enums.PaymentStatusProcessing},
		{"REVERSED", enums.PaymentStatusRefunded},
		{"NEW_STATE", enums.PaymentStatusPending},
	}
	for _, tc := range cases {
		if got := mapStatus(tc.vendor); got != tc.want {
			t.Errorf("mapStatus(%q) = %s, want %s", tc.vendor, got, tc.want)
		}
	}
}
