package webhooks

import (
	"io"
	"net/http"

	"github.com/nyumbapay/nyumbapay-backend/api/responses"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers/airtel"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
)

type airtelAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AirtelWebhook handles Airtel Money transaction callbacks. The HMAC in
// X-Auth-Signature is checked by the adapter before any state moves.
func AirtelWebhook(svc ReconcileService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(airtel.SignatureHeader)
		if _, err := svc.Process(ctx, enums.ProviderAirtel, raw, signature); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		writeJSON(w, http.StatusOK, airtelAck{Success: true, Message: "callback received"})
	}
}
