// Package pesalink adapts a bank-rail transfer API onto the shared
// provider contract. The rail delivers no webhooks: outcomes are obtained
// by polling and by offline CSV reconciliation files, and transfers are
// submitted in native sub-batches.
package pesalink

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
)

const (
	transferPath      = "/api/v1/transfers"
	batchTransferPath = "/api/v1/transfers/batch"
	balancePath       = "/api/v1/accounts/balance"
	healthPath        = "/api/v1/health"
)

var capabilities = providers.Capabilities{
	B2C:               true,
	B2B:               true,
	BalanceQuery:      true,
	CSVReconciliation: true,
	NativeBatch:       true,
}

// Adapter implements providers.Adapter and providers.BatchSender.
type Adapter struct {
	rest *providers.RESTClient
	cfg  config.PesalinkConfig
}

func NewAdapter(cfg config.PesalinkConfig, doer providers.HTTPDoer) *Adapter {
	return &Adapter{
		rest: providers.NewRESTClient("pesalink", cfg.BaseURL, cfg.Timeout, doer),
		cfg:  cfg,
	}
}

func (a *Adapter) ID() enums.Provider {
	return enums.ProviderPesalink
}

func (a *Adapter) Capabilities() providers.Capabilities {
	return capabilities
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"X-Api-Key": a.cfg.APIKey}
}

type transferRequest struct {
	SourceAccount string `json:"source_account"`
	Phone         string `json:"phone"`
	Amount        string `json:"amount"`
	Reference     string `json:"reference"`
	Narration     string `json:"narration"`
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
	Reference  string `json:"reference"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func (a *Adapter) SendPayment(ctx context.Context, req providers.PaymentRequest) (providers.PaymentResponse, error) {
	body := transferRequest{
		SourceAccount: a.cfg.AccountNumber,
		Phone:         req.PhoneNumber,
		Amount:        req.Amount.StringFixed(2),
		Reference:     req.Reference,
		Narration:     req.Description,
	}
	var resp transferResponse
	if err := a.rest.DoJSON(ctx, http.MethodPost, transferPath, a.headers(), body, &resp); err != nil {
		return providers.PaymentResponse{}, err
	}
	return a.toPaymentResponse(resp), nil
}

// SendBatch submits transfers in one call; the rail acknowledges each item
// individually.
func (a *Adapter) SendBatch(ctx context.Context, reqs []providers.PaymentRequest) ([]providers.PaymentResponse, error) {
	items := make([]transferRequest, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, transferRequest{
			SourceAccount: a.cfg.AccountNumber,
			Phone:         req.PhoneNumber,
			Amount:        req.Amount.StringFixed(2),
			Reference:     req.Reference,
			Narration:     req.Description,
		})
	}

	var resp struct {
		Transfers []transferResponse `json:"transfers"`
	}
	if err := a.rest.DoJSON(ctx, http.MethodPost, batchTransferPath, a.headers(), map[string]any{"transfers": items}, &resp); err != nil {
		return nil, err
	}

	out := make([]providers.PaymentResponse, 0, len(resp.Transfers))
	for _, item := range resp.Transfers {
		out = append(out, a.toPaymentResponse(item))
	}
	return out, nil
}

func (a *Adapter) GetStatus(ctx context.Context, transactionID string) (providers.PaymentResponse, error) {
	var resp transferResponse
	if err := a.rest.DoJSON(ctx, http.MethodGet, transferPath+"/"+transactionID, a.headers(), nil, &resp); err != nil {
		return providers.PaymentResponse{}, err
	}
	return a.toPaymentResponse(resp), nil
}

// VerifyCallback always fails: the rail does not deliver webhooks.
// Callers must consult Capabilities().WebhookDelivery first.
func (a *Adapter) VerifyCallback(_ []byte, _ string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "pesalink does not deliver webhooks; use CSV reconciliation")
}

func (a *Adapter) ParseCallback(_ []byte) (providers.WebhookCallback, error) {
	return providers.WebhookCallback{}, pkgerrors.New(pkgerrors.CodeStateConflict, "pesalink does not deliver webhooks; use CSV reconciliation")
}

func (a *Adapter) GetBalance(ctx context.Context) (providers.Balance, error) {
	var resp struct {
		Balance  string `json:"balance"`
		Currency string `json:"currency"`
	}
	if err := a.rest.DoJSON(ctx, http.MethodGet, balancePath, a.headers(), nil, &resp); err != nil {
		return providers.Balance{}, err
	}
	available, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return providers.Balance{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "parse pesalink balance")
	}
	return providers.Balance{Currency: resp.Currency, Available: available}, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.rest.DoJSON(ctx, http.MethodGet, healthPath, a.headers(), nil, nil)
}

func (a *Adapter) toPaymentResponse(resp transferResponse) providers.PaymentResponse {
	status := mapStatus(resp.Status)
	return providers.PaymentResponse{
		Success:       status == enums.PaymentStatusCompleted || status == enums.PaymentStatusProcessing,
		TransactionID: resp.TransferID,
		Reference:     resp.Reference,
		Status:        status,
		Message:       resp.Message,
		Raw:           map[string]any{"transfer_id": resp.TransferID, "status": resp.Status, "message": resp.Message},
	}
}

func mapStatus(vendor string) enums.PaymentStatus {
	switch vendor {
	case "SETTLED", "SUCCESS", "COMPLETED":
		return enums.PaymentStatusCompleted
	case "REJECTED", "FAILED":
		return enums.PaymentStatusFailed
	case "QUEUED", "PROCESSING", "ACCEPTED":
		return enums.PaymentStatusProcessing
	case "REVERSED":
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusPending
	}
}
