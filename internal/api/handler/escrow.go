package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

type EscrowHandler struct {
	svc *service.EscrowService
}

func NewEscrowHandler(svc *service.EscrowService) *EscrowHandler {
	return &EscrowHandler{svc: svc}
}

// CreateHold handles POST /v1/escrows.
func (h *EscrowHandler) CreateHold(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		SenderID         string `json:"sender_id"`
		RecipientID      string `json:"recipient_id"`
		Amount           int64  `json:"amount"`
		Currency         string `json:"currency"`
		ReleaseCondition string `json:"release_condition"`
		FundingSource    string `json:"funding_source"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	// The sender defaults to the caller; a malformed value is rejected
	// rather than silently replaced.
	senderID := actor.ID
	if req.SenderID != "" {
		var ok bool
		senderID, ok = parseUUID(req.SenderID)
		if !ok {
			RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid sender_id")
			return
		}
	}
	recipientID, ok := parseUUID(req.RecipientID)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid recipient_id")
		return
	}

	result, err := h.svc.CreateHold(r.Context(), service.CreateHoldCmd{
		Actor:            actor,
		SenderID:         senderID,
		RecipientID:      recipientID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		ReleaseCondition: req.ReleaseCondition,
		FundingSource:    req.FundingSource,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

// Get handles GET /v1/escrows/{id}.
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}
	escrow, err := h.svc.Get(r.Context(), actor, escrowID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, escrow)
}

// Release handles POST /v1/escrows/{id}/release.
func (h *EscrowHandler) Release(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}
	escrow, err := h.svc.ReleaseHold(r.Context(), service.ReleaseCmd{Actor: actor, EscrowID: escrowID})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, escrow)
}

// Refund handles POST /v1/escrows/{id}/refund.
func (h *EscrowHandler) Refund(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}

	var req struct {
		Amount     int64  `json:"amount"`
		ServiceFee int64  `json:"service_fee"`
		Reason     string `json:"reason"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	escrow, err := h.svc.RefundHold(r.Context(), service.RefundCmd{
		Actor:      actor,
		EscrowID:   escrowID,
		Amount:     req.Amount,
		ServiceFee: req.ServiceFee,
		Reason:     req.Reason,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, escrow)
}

// Dispute handles POST /v1/escrows/{id}/dispute.
func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}

	var req struct {
		Reason   string `json:"reason"`
		Evidence string `json:"evidence"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	escrow, err := h.svc.OpenDispute(r.Context(), service.DisputeCmd{
		Actor:    actor,
		EscrowID: escrowID,
		Reason:   req.Reason,
		Evidence: req.Evidence,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, escrow)
}

// ResolveDispute handles POST /v1/escrows/{id}/dispute/resolve (admin).
func (h *EscrowHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}

	var req struct {
		Resolution  string `json:"resolution"`
		SenderShare int64  `json:"sender_share"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	escrow, err := h.svc.ResolveDispute(r.Context(), service.ResolveDisputeCmd{
		Actor:       actor,
		EscrowID:    escrowID,
		Resolution:  req.Resolution,
		SenderShare: req.SenderShare,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, escrow)
}

// Proof handles POST /v1/escrows/{id}/proof.
func (h *EscrowHandler) Proof(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}

	var req struct {
		Verified bool `json:"verified"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	escrow, err := h.svc.RecordProof(r.Context(), service.ProofCmd{
		Actor:    actor,
		EscrowID: escrowID,
		Verified: req.Verified,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, escrow)
}

// Refunds handles GET /v1/escrows/{id}/refunds.
func (h *EscrowHandler) Refunds(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	escrowID, ok := parseUUID(chi.URLParam(r, "id"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid escrow id")
		return
	}
	events, err := h.svc.RefundHistory(r.Context(), actor, escrowID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"refunds": events})
}
