package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	KYCStatus string    `json:"kyc_status"`
	CreatedAt time.Time `json:"created_at"`
}

type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerEntry is an immutable record of one balance change. Entries are
// append-only; the sum of entries for an account always equals its balance.
type LedgerEntry struct {
	ID        uuid.UUID  `json:"id"`
	AccountID uuid.UUID  `json:"account_id"`
	EscrowID  *uuid.UUID `json:"escrow_id,omitempty"`
	Amount    int64      `json:"amount"` // signed micros
	Type      string     `json:"type"`
	ActorID   uuid.UUID  `json:"actor_id"`
	CreatedAt time.Time  `json:"created_at"`
}

// DisputeRecord is the typed dispute sub-record of an escrow.
type DisputeRecord struct {
	OpenedBy   uuid.UUID  `json:"opened_by"`
	Reason     string     `json:"reason"`
	Evidence   string     `json:"evidence,omitempty"`
	OpenedAt   time.Time  `json:"opened_at"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type Escrow struct {
	ID                 uuid.UUID      `json:"id"`
	SenderID           uuid.UUID      `json:"sender_id"`
	RecipientID        uuid.UUID      `json:"recipient_id"`
	SenderAccountID    uuid.UUID      `json:"sender_account_id"`
	RecipientAccountID uuid.UUID      `json:"recipient_account_id"`
	Amount             int64          `json:"amount"`
	Currency           string         `json:"currency"`
	Status             string         `json:"status"`
	ReleaseCondition   string         `json:"release_condition"`
	FundingSource      string         `json:"funding_source"`
	FundingStatus      string         `json:"funding_status"`
	ProviderOrderRef   string         `json:"provider_order_ref,omitempty"`
	ProofSubmitted     bool           `json:"proof_submitted"`
	ProofVerified      bool           `json:"proof_verified"`
	ProofVerifiedAt    *time.Time     `json:"proof_verified_at,omitempty"`
	RefundedAmount     int64          `json:"refunded_amount"`
	ServiceFeeRetained int64          `json:"service_fee_retained"`
	ExpiresAt          time.Time      `json:"expires_at"`
	ReleasedAt         *time.Time     `json:"released_at,omitempty"`
	Dispute            *DisputeRecord `json:"dispute,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Remaining is the portion of the hold not yet refunded or retained as fee.
func (e *Escrow) Remaining() int64 {
	return e.Amount - e.RefundedAmount - e.ServiceFeeRetained
}

// RefundEvent is one entry of an escrow's refund history.
type RefundEvent struct {
	ID         uuid.UUID `json:"id"`
	EscrowID   uuid.UUID `json:"escrow_id"`
	Amount     int64     `json:"amount"`
	ServiceFee int64     `json:"service_fee"`
	Reason     string    `json:"reason"`
	RefundedBy uuid.UUID `json:"refunded_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ComplianceThreshold is read-only configuration at evaluation time.
type ComplianceThreshold struct {
	ID            uuid.UUID `json:"id"`
	ThresholdType string    `json:"threshold_type"`
	Currency      string    `json:"currency"`
	AmountLimit   int64     `json:"amount_limit"`
	CountLimit    int       `json:"count_limit"`
	WindowMinutes int       `json:"window_minutes"`
	Action        string    `json:"action"`
	RiskWeight    int       `json:"risk_weight"`
	Active        bool      `json:"active"`
}

type FraudRule struct {
	ID         uuid.UUID `json:"id"`
	RuleType   string    `json:"rule_type"`
	Name       string    `json:"name"`
	Params     []byte    `json:"params"`
	Action     string    `json:"action"`
	RiskWeight int       `json:"risk_weight"`
	Active     bool      `json:"active"`
}

type RiskProfile struct {
	UserID           uuid.UUID  `json:"user_id"`
	RiskScore        int        `json:"risk_score"`
	IsBlocked        bool       `json:"is_blocked"`
	BlockedReason    string     `json:"blocked_reason,omitempty"`
	TotalSentMicros  int64      `json:"total_sent_micros"`
	TransactionCount int64      `json:"transaction_count"`
	LastEvaluatedAt  *time.Time `json:"last_evaluated_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (p *RiskProfile) RiskLevel() string {
	switch {
	case p.RiskScore >= 80:
		return "critical"
	case p.RiskScore >= 60:
		return "high"
	case p.RiskScore >= 30:
		return "medium"
	default:
		return "low"
	}
}

type SuspiciousActivityReport struct {
	ID                 uuid.UUID   `json:"id"`
	ReportNo           string      `json:"report_no"`
	ReportType         string      `json:"report_type"`
	UserID             uuid.UUID   `json:"user_id"`
	TransactionIDs     []uuid.UUID `json:"transaction_ids"`
	TriggeredRules     []string    `json:"triggered_rules"`
	RiskScore          int         `json:"risk_score"`
	Status             string      `json:"status"`
	InvestigationNotes string      `json:"investigation_notes,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// ProcessedWebhookEvent is the idempotency ledger for provider callbacks.
type ProcessedWebhookEvent struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	EscrowID    *uuid.UUID `json:"escrow_id,omitempty"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// OutboxEvent is a pending post-commit notification.
type OutboxEvent struct {
	ID           uuid.UUID  `json:"id"`
	EscrowID     uuid.UUID  `json:"escrow_id"`
	EventType    string     `json:"event_type"`
	RecipientID  uuid.UUID  `json:"recipient_id"`
	Payload      []byte     `json:"payload"`
	Status       string     `json:"status"`
	Attempts     int32      `json:"attempts"`
	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
}
