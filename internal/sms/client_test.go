package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
)

func newGateway(t *testing.T, status int, body string, captured *http.Request) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = *r
			_ = r.ParseForm()
			captured.Form = r.Form
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSendFormatsRecipientAndHeaders(t *testing.T) {
	var captured http.Request
	server := newGateway(t, http.StatusCreated, `{"SMSMessageData":{"Message":"Sent to 1/1","Recipients":[{"number":"+254701234567","status":"Success","statusCode":101}]}}`, &captured)

	client := NewClient(config.SMSConfig{
		BaseURL:  server.URL,
		Username: "nyumbapay",
		APIKey:   "atsk_test",
		SenderID: "NYUMBAPAY",
	}, nil)

	err := client.Send(context.Background(), "254701234567", "Rent payment received")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := captured.Form.Get("to"); got != "+254701234567" {
		t.Fatalf("to = %q, want +254701234567", got)
	}
	if got := captured.Form.Get("from"); got != "NYUMBAPAY" {
		t.Fatalf("from = %q", got)
	}
	if got := captured.Header.Get("apiKey"); got != "atsk_test" {
		t.Fatalf("apiKey header = %q", got)
	}
}

func TestSendGatewayErrorStatus(t *testing.T) {
	server := newGateway(t, http.StatusUnauthorized, `{}`, nil)
	client := NewClient(config.SMSConfig{BaseURL: server.URL}, nil)

	if err := client.Send(context.Background(), "254701234567", "hi"); err == nil {
		t.Fatal("expected error on 401 from gateway")
	}
}

func TestSendRecipientRejection(t *testing.T) {
	server := newGateway(t, http.StatusCreated, `{"SMSMessageData":{"Recipients":[{"number":"+254701234567","status":"InvalidPhoneNumber","statusCode":403}]}}`, nil)
	client := NewClient(config.SMSConfig{BaseURL: server.URL}, nil)

	if err := client.Send(context.Background(), "254701234567", "hi"); err == nil {
		t.Fatal("expected error when the recipient is rejected")
	}
}
