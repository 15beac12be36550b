// Package providers defines the uniform contract implemented by every
// external payment network adapter.
package providers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// PaymentRequest carries one outbound collection request. Immutable once
// constructed; the phone number must already be in canonical form.
type PaymentRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

// PaymentResponse is the normalized result of a provider call.
type PaymentResponse struct {
	Success       bool
	TransactionID string
	Reference     string
	Status        enums.PaymentStatus
	Message       string
	Raw           map[string]any
}

// WebhookCallback is the normalized form of an inbound provider
// notification, produced by ParseCallback and consumed once by the
// reconciler.
type WebhookCallback struct {
	TransactionID string
	Reference     string
	Status        enums.PaymentStatus
	Amount        decimal.Decimal
	PhoneNumber   string
	ReceiptNumber string
	CompletedAt   *time.Time
	FailureReason string
	Provider      enums.Provider
	Raw           []byte
}

// Balance reports available float on the provider account.
type Balance struct {
	Currency  string
	Available decimal.Decimal
}

// Capabilities flags what a provider supports. Constructed once per
// adapter and never mutated; consult before invoking optional behavior.
type Capabilities struct {
	PushPayment       bool
	B2C               bool
	B2B               bool
	BalanceQuery      bool
	Reversal          bool
	WebhookDelivery   bool
	CSVReconciliation bool
	NativeBatch       bool
}

// Adapter is the uniform surface over one vendor-specific REST API.
type Adapter interface {
	ID() enums.Provider
	Capabilities() Capabilities
	SendPayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error)
	GetStatus(ctx context.Context, transactionID string) (PaymentResponse, error)
	// VerifyCallback authenticates a raw inbound payload. The signature
	// argument carries the transport-level header where the scheme uses one.
	VerifyCallback(raw []byte, signature string) error
	ParseCallback(raw []byte) (WebhookCallback, error)
	GetBalance(ctx context.Context) (Balance, error)
	HealthCheck(ctx context.Context) error
}

// BatchSender is implemented by adapters with native batch submission.
// Callers must check Capabilities().NativeBatch before asserting.
type BatchSender interface {
	SendBatch(ctx context.Context, reqs []PaymentRequest) ([]PaymentResponse, error)
}
