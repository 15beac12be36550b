// Package webhooks exposes the inbound callback endpoints. Each provider
// endpoint reads the raw body, hands it to the reconciler, and answers in
// the vendor's expected acknowledgement shape.
package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nyumbapay/nyumbapay-backend/api/responses"
	"github.com/nyumbapay/nyumbapay-backend/internal/webhooks"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
)

const maxCallbackBytes = 1 << 20

// ReconcileService applies one verified callback.
type ReconcileService interface {
	Process(ctx context.Context, provider enums.Provider, raw []byte, signature string) (*webhooks.Result, error)
}

// darajaAck is the acknowledgement Daraja expects. A non-zero ResultCode
// makes Safaricom redeliver, so verified payloads are always acked even
// when they turn out to be duplicates or orphans.
type darajaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// MpesaWebhook handles Daraja STK push result callbacks.
func MpesaWebhook(svc ReconcileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if _, err := svc.Process(ctx, enums.ProviderMpesa, raw, ""); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeJSON(w, http.StatusOK, darajaAck{ResultCode: 0, ResultDesc: "Accepted"})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
