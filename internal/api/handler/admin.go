package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

// AdminHandler exposes operator-only maintenance endpoints.
type AdminHandler struct {
	reconciliation *service.ReconciliationService
	sweeps         *service.EscrowService
}

func NewAdminHandler(reconciliation *service.ReconciliationService, sweeps *service.EscrowService) *AdminHandler {
	return &AdminHandler{reconciliation: reconciliation, sweeps: sweeps}
}

// RunReconciliation handles POST /v1/admin/reconciliation: an on-demand
// conservation check outside the daily worker schedule.
func (h *AdminHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliation.Run(r.Context())
	if err != nil {
		zap.L().Error("reconciliation run failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "reconciliation/failed", "Reconciliation run failed")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"clean":  report.Clean(),
		"report": report,
	})
}

// RunSweep handles POST /v1/admin/sweep: runs one auto-release and
// auto-refund pass immediately.
func (h *AdminHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	released, err := h.sweeps.AutoRelease(r.Context(), 100)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	refunded, err := h.sweeps.AutoRefund(r.Context(), 100)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{
		"released": released,
		"refunded": refunded,
	})
}
