package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/middleware"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/problem"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/models"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an RFC 7807 error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) (service.Actor, error) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return service.Actor{}, errors.New("missing user in auth context")
	}
	actorID, err := uuid.Parse(userID)
	if err != nil {
		return service.Actor{}, errors.New("invalid user_id in auth context")
	}
	return service.Actor{ID: actorID, Role: middleware.UserRoleFromContext(r.Context())}, nil
}

// RespondServiceError maps service-layer errors onto HTTP statuses.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rejection *service.ComplianceRejectionError
	if errors.As(err, &rejection) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error":         "transaction rejected by compliance",
			"block_reasons": rejection.Reasons,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnsupportedCurrency):
		RespondError(w, r, http.StatusBadRequest, "request/invalid", err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "not allowed to perform this operation")
	case errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrEscrowNotFound),
		errors.Is(err, models.ErrReportNotFound),
		errors.Is(err, models.ErrOrderNotFound):
		RespondError(w, r, http.StatusNotFound, "resource/not-found", err.Error())
	case errors.Is(err, models.ErrInsufficientFunds):
		RespondError(w, r, http.StatusUnprocessableEntity, "ledger/insufficient-funds", "insufficient funds")
	case errors.Is(err, models.ErrComplianceRejected):
		RespondError(w, r, http.StatusUnprocessableEntity, "compliance/rejected", err.Error())
	case errors.Is(err, models.ErrInvalidState):
		RespondError(w, r, http.StatusConflict, "escrow/invalid-state", err.Error())
	case errors.Is(err, models.ErrExpired):
		RespondError(w, r, http.StatusConflict, "escrow/expired", "escrow has expired")
	case errors.Is(err, models.ErrProofRequired):
		RespondError(w, r, http.StatusConflict, "escrow/proof-required", "verified proof of service is required before release")
	case errors.Is(err, models.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "signature verification failed")
	case errors.Is(err, models.ErrBusy):
		w.Header().Set("Retry-After", "1")
		RespondError(w, r, http.StatusServiceUnavailable, "contention/busy", "resource is busy, retry shortly")
	case errors.Is(err, models.ErrProviderTimeout):
		RespondError(w, r, http.StatusGatewayTimeout, "provider/timeout", "payment provider did not respond in time")
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

func parseUUID(value string) (uuid.UUID, bool) {
	id, err := uuid.Parse(value)
	return id, err == nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}
