package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/domain"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

type UserHandler struct {
	store *repository.Store
}

func NewUserHandler(store *repository.Store) *UserHandler {
	return &UserHandler{store: store}
}

// CreateUser handles POST /v1/users. New users start unverified.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Email == "" {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "username and email are required")
		return
	}

	user, err := h.store.Queries().CreateUser(r.Context(), repository.CreateUserParams{
		ID:        repository.ToPgUUID(uuid.New()),
		Username:  req.Username,
		Email:     req.Email,
		Role:      "user",
		KYCStatus: domain.KYCUnverified,
	})
	if err != nil {
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("create user failed", zap.Error(err), zap.String("email", req.Email))
		RespondError(w, r, http.StatusInternalServerError, "user/create-failed", "Failed to create user")
		return
	}
	RespondJSON(w, http.StatusCreated, user)
}

// SetKYCStatus handles PUT /v1/users/{userID}/kyc (admin). The verification
// pipeline itself runs elsewhere; this records its outcome.
func (h *UserHandler) SetKYCStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUID(chi.URLParam(r, "userID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid user id")
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Status {
	case domain.KYCUnverified, domain.KYCPending, domain.KYCVerified, domain.KYCRejected:
	default:
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Unknown KYC status")
		return
	}

	rows, err := h.store.Queries().SetUserKYCStatus(r.Context(), repository.SetUserKYCStatusParams{
		KYCStatus: req.Status,
		ID:        repository.ToPgUUID(userID),
	})
	if err != nil {
		zap.L().Error("set kyc status failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "user/kyc-update-failed", "Failed to update KYC status")
		return
	}
	if rows == 0 {
		RespondError(w, r, http.StatusNotFound, "user/not-found", "User not found")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"kyc_status": req.Status})
}
