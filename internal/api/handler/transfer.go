package handler

import (
	"net/http"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

type TransferHandler struct {
	svc *service.LedgerService
}

func NewTransferHandler(svc *service.LedgerService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

// Create handles POST /v1/transfers: a compliance-gated direct transfer.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		ToUserID string `json:"to_user_id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Kind     string `json:"kind"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	toUserID, ok := parseUUID(req.ToUserID)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid to_user_id")
		return
	}
	if req.Kind == "" {
		req.Kind = domain.EntryPayment
	}

	result, err := h.svc.Transfer(r.Context(), service.TransferCmd{
		Actor:      actor,
		FromUserID: actor.ID,
		ToUserID:   toUserID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Kind:       req.Kind,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, result)
}

// Deposit handles POST /v1/accounts/{id}/deposit (admin: external funds).
func (h *TransferHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		AccountID string `json:"account_id"`
		Amount    int64  `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	accountID, ok := parseUUID(req.AccountID)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid account_id")
		return
	}

	entryID, err := h.svc.Deposit(r.Context(), service.DepositCmd{
		Actor:     actor,
		AccountID: accountID,
		Amount:    req.Amount,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{"entry_id": entryID.String()})
}

// Withdraw handles POST /v1/withdrawals.
func (h *TransferHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		AccountID   string `json:"account_id"`
		Amount      int64  `json:"amount"`
		Destination string `json:"destination"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	accountID, ok := parseUUID(req.AccountID)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid account_id")
		return
	}

	entryID, err := h.svc.Withdraw(r.Context(), service.WithdrawCmd{
		Actor:       actor,
		AccountID:   accountID,
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{"entry_id": entryID.String()})
}
