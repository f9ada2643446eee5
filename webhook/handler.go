package webhook

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/complyflow/ledgersync/models"
)

// SignatureHeader carries the provider's payload signature.
const SignatureHeader = "X-Ledger-Signature"

const maxBodySize = 5 << 20 // provider batches are small; 5MB is generous

// Handler is the HTTP receiver for provider webhook deliveries.
type Handler struct {
	ingester *Ingester
	logger   *zap.Logger
}

func NewHandler(ingester *Ingester, logger *zap.Logger) *Handler {
	return &Handler{ingester: ingester, logger: logger}
}

// ServeHTTP accepts a delivery, responding 401 on signature failure (with no
// detail for the caller), 400 on malformed payloads, and 200 once events are
// durably stored. Heavy processing never happens on this path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	result, err := h.ingester.Ingest(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidSignature):
			h.logger.Warn("webhook signature verification failed",
				zap.String("remote_addr", r.RemoteAddr))
			w.WriteHeader(http.StatusUnauthorized)
		default:
			var payloadErr *models.InvalidWebhookPayloadError
			if errors.As(err, &payloadErr) {
				h.logger.Warn("malformed webhook payload", zap.String("reason", payloadErr.Reason))
				w.WriteHeader(http.StatusBadRequest)

				return
			}

			h.logger.Error("webhook ingestion failed", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
		}

		return
	}

	h.logger.Info("webhook delivery accepted",
		zap.Int("received", result.Received),
		zap.Int("stored", result.Stored),
		zap.Int("skipped", result.Skipped))

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
