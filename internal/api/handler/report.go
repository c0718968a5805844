package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

type ReportHandler struct {
	svc *service.ReportService
}

func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// List handles GET /v1/reports?status=&limit=&offset= (admin).
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	limit := int32(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, parseErr := strconv.ParseInt(raw, 10, 32); parseErr == nil && v > 0 {
			limit = int32(v)
		}
	}
	var offset int32
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, parseErr := strconv.ParseInt(raw, 10, 32); parseErr == nil && v >= 0 {
			offset = int32(v)
		}
	}

	reports, err := h.svc.List(r.Context(), actor, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// Get handles GET /v1/reports/{reportID} (admin).
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	reportID, ok := parseUUID(chi.URLParam(r, "reportID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid report id")
		return
	}
	report, err := h.svc.Get(r.Context(), actor, reportID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

// Resolve handles POST /v1/reports/{reportID}/status (admin).
func (h *ReportHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	reportID, ok := parseUUID(chi.URLParam(r, "reportID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid report id")
		return
	}

	var req struct {
		Status string `json:"status"`
		Notes  string `json:"notes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	report, err := h.svc.Resolve(r.Context(), service.ResolveReportCmd{
		Actor:    actor,
		ReportID: reportID,
		Status:   req.Status,
		Notes:    req.Notes,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
