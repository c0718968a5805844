package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// Open handles POST /v1/accounts.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		UserID   string `json:"user_id"`
		Currency string `json:"currency"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID := actor.ID
	if req.UserID != "" {
		parsed, ok := parseUUID(req.UserID)
		if !ok {
			RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid user_id")
			return
		}
		userID = parsed
	}

	account, err := h.svc.Open(r.Context(), service.OpenAccountCmd{
		Actor:    actor,
		UserID:   userID,
		Currency: req.Currency,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, account)
}

// Get handles GET /v1/accounts/{accountID}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	accountID, ok := parseUUID(chi.URLParam(r, "accountID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid account id")
		return
	}
	account, err := h.svc.Get(r.Context(), actor, accountID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

// Statement handles GET /v1/accounts/{accountID}/entries?limit=&offset=.
func (h *AccountHandler) Statement(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	accountID, ok := parseUUID(chi.URLParam(r, "accountID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid account id")
		return
	}

	var limit, offset int32
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, parseErr := strconv.ParseInt(raw, 10, 32); parseErr == nil {
			limit = int32(v)
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, parseErr := strconv.ParseInt(raw, 10, 32); parseErr == nil && v >= 0 {
			offset = int32(v)
		}
	}

	entries, err := h.svc.Statement(r.Context(), actor, accountID, limit, offset)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
