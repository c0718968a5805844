package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

type ComplianceHandler struct {
	svc *service.ComplianceService
}

func NewComplianceHandler(svc *service.ComplianceService) *ComplianceHandler {
	return &ComplianceHandler{svc: svc}
}

// Check handles POST /v1/compliance/check: a dry-run style pre-flight that
// still records risk side effects, exactly like the gate inside transfers.
func (h *ComplianceHandler) Check(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		UserID         string `json:"user_id"`
		CounterpartyID string `json:"counterparty_id"`
		Amount         int64  `json:"amount"`
		Currency       string `json:"currency"`
		Type           string `json:"transaction_type"`
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
		if parsed != actor.ID && !actor.Trusted() {
			RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "cannot evaluate another user")
			return
		}
		userID = parsed
	}

	var counterparty *uuid.UUID
	if req.CounterpartyID != "" {
		parsed, ok := parseUUID(req.CounterpartyID)
		if !ok {
			RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid counterparty_id")
			return
		}
		counterparty = &parsed
	}

	decision, err := h.svc.Evaluate(r.Context(), service.EvaluateInput{
		UserID:          userID,
		CounterpartyID:  counterparty,
		Amount:          req.Amount,
		Currency:        req.Currency,
		TransactionType: req.Type,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, decision)
}

// Profile handles GET /v1/compliance/profiles/{userID}.
func (h *ComplianceHandler) Profile(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	userID, ok := parseUUID(chi.URLParam(r, "userID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid user id")
		return
	}
	profile, err := h.svc.GetProfile(r.Context(), actor, userID)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"profile":    profile,
		"risk_level": profile.RiskLevel(),
	})
}

// Block handles POST /v1/compliance/profiles/{userID}/block (admin).
func (h *ComplianceHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

// Unblock handles POST /v1/compliance/profiles/{userID}/unblock (admin).
func (h *ComplianceHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *ComplianceHandler) setBlocked(w http.ResponseWriter, r *http.Request, block bool) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}
	userID, ok := parseUUID(chi.URLParam(r, "userID"))
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid", "Invalid user id")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if block && !decodeBody(w, r, &req) {
		return
	}

	if err := h.svc.SetBlocked(r.Context(), service.BlockUserCmd{
		Actor:  actor,
		UserID: userID,
		Block:  block,
		Reason: req.Reason,
	}); err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]bool{"blocked": block})
}

// CreateThreshold handles POST /v1/compliance/thresholds (admin).
func (h *ComplianceHandler) CreateThreshold(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		ThresholdType string `json:"threshold_type"`
		Currency      string `json:"currency"`
		AmountLimit   int64  `json:"amount_limit"`
		CountLimit    int32  `json:"count_limit"`
		WindowMinutes int32  `json:"window_minutes"`
		Action        string `json:"action"`
		RiskWeight    int32  `json:"risk_weight"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.svc.AddThreshold(r.Context(), service.ThresholdCmd{
		Actor:         actor,
		ThresholdType: req.ThresholdType,
		Currency:      req.Currency,
		AmountLimit:   req.AmountLimit,
		CountLimit:    req.CountLimit,
		WindowMinutes: req.WindowMinutes,
		ActionOnHit:   req.Action,
		RiskWeight:    req.RiskWeight,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// CreateFraudRule handles POST /v1/compliance/rules (admin).
func (h *ComplianceHandler) CreateFraudRule(w http.ResponseWriter, r *http.Request) {
	actor, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-context", err.Error())
		return
	}

	var req struct {
		RuleType   string          `json:"rule_type"`
		Name       string          `json:"name"`
		Params     json.RawMessage `json:"params"`
		Action     string          `json:"action"`
		RiskWeight int32           `json:"risk_weight"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.svc.AddFraudRule(r.Context(), service.FraudRuleCmd{
		Actor:       actor,
		RuleType:    req.RuleType,
		Name:        req.Name,
		Params:      req.Params,
		ActionOnHit: req.Action,
		RiskWeight:  req.RiskWeight,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}
