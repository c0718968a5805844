package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/middleware"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
)

type AuthHandler struct {
	store *repository.Store
}

func NewAuthHandler(store *repository.Store) *AuthHandler {
	return &AuthHandler{store: store}
}

// Login handles POST /v1/auth/login. Mock login by user id: there is no
// password store here, the endpoint exists so every other route can require
// a real token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	uid, ok := parseUUID(req.UserID)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid user_id")
		return
	}

	user, err := h.store.Queries().GetUser(r.Context(), repository.ToPgUUID(uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			RespondError(w, r, http.StatusNotFound, "user/not-found", "User not found")
			return
		}
		zap.L().Error("load user failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/login-failed", "Failed to log in")
		return
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": uid.String(),
		"role":    user.Role,
		"iss":     middleware.JWTIssuer(),
		"aud":     middleware.JWTAudience(),
		"iat":     now.Unix(),
		"exp":     now.Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(middleware.JWTSecret())
	if err != nil {
		zap.L().Error("sign token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/sign-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{"token": tokenString})
}
