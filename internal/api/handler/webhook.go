package handler

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

// WebhookHandler handles payment provider callbacks.
type WebhookHandler struct {
	svc *service.WebhookService
}

func NewWebhookHandler(svc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// HandleProviderWebhook handles POST /v1/webhooks/provider.
// The raw body is signed by the provider; the signature travels in
// X-Webhook-Signature and is verified against the shared secret.
func (h *WebhookHandler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		zap.L().Error("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	result, err := h.svc.Ingest(r.Context(), body, signature)
	if err != nil {
		zap.L().Error("process provider webhook failed", zap.Error(err))
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}
