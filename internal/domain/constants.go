package domain

// System IDs (must match migration 000002)
const (
	SystemUserID = "11111111-1111-1111-1111-111111111111"

	// Fee accounts absorb service fees retained on partial refunds and the
	// platform leg of split dispute resolutions.
	FeeAccountTRY = "22222222-2222-2222-2222-222222222222"
	FeeAccountUSD = "33333333-3333-3333-3333-333333333333"
	FeeAccountEUR = "44444444-4444-4444-4444-444444444444"

	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleSystem = "system"

	// Ledger entry types
	EntryDeposit       = "deposit"
	EntryWithdrawal    = "withdrawal"
	EntryPayment       = "payment"
	EntryRefund        = "refund"
	EntryGift          = "gift"
	EntryEscrowHold    = "escrow_hold"
	EntryEscrowRelease = "escrow_release"
	EntryEscrowRefund  = "escrow_refund"
	EntryPartialRefund = "partial_refund"

	// Escrow statuses
	EscrowStatusPending  = "pending"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
	EscrowStatusDisputed = "disputed"
	EscrowStatusExpired  = "expired"

	// Release conditions
	ReleaseConditionProof    = "proof"
	ReleaseConditionApproval = "approval"
	ReleaseConditionTimer    = "timer"
	ReleaseConditionDirect   = "direct"

	// Funding
	FundingSourceWallet = "wallet"
	FundingSourceCard   = "card"

	FundingStatusCollected = "collected"
	FundingStatusAwaiting  = "awaiting"
	FundingStatusFailed    = "failed"

	// Dispute resolutions
	ResolutionReleaseToRecipient = "release_to_recipient"
	ResolutionRefundToSender     = "refund_to_sender"
	ResolutionSplit              = "split"

	// KYC statuses (written by the external KYC pipeline, read-only here)
	KYCUnverified = "unverified"
	KYCPending    = "pending"
	KYCVerified   = "verified"
	KYCRejected   = "rejected"

	// Compliance threshold types
	ThresholdSingleTransaction = "single_transaction"
	ThresholdDailyVolume       = "daily_volume"
	ThresholdWeeklyVolume      = "weekly_volume"
	ThresholdMonthlyVolume     = "monthly_volume"
	ThresholdVelocity          = "velocity"
	ThresholdStructuring       = "structuring"
	ThresholdRoundAmount       = "round_amount"
	ThresholdNewAccount        = "new_account"
	ThresholdDormantAccount    = "dormant_account"

	// Compliance / fraud rule actions
	ActionFlag          = "flag"
	ActionDelay         = "delay"
	ActionBlock         = "block"
	ActionReport        = "report"
	ActionRequireKYC    = "require_kyc"
	ActionRequireSource = "require_source"

	// Fraud rule types
	RuleVelocity     = "velocity"
	RulePattern      = "pattern"
	RuleGeographic   = "geographic"
	RuleBehavioral   = "behavioral"
	RuleDevice       = "device"
	RuleRelationship = "relationship"

	// Risk levels
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"

	// SAR statuses
	SARStatusPending       = "pending"
	SARStatusInvestigating = "investigating"
	SARStatusEscalated     = "escalated"
	SARStatusReported      = "reported"
	SARStatusCleared       = "cleared"
	SARStatusConfirmed     = "confirmed"

	// Webhook event types from the payment provider
	WebhookChargeSucceeded = "charge.succeeded"
	WebhookChargeFailed    = "charge.failed"

	// Outbox notification event types
	OutboxEscrowFunded       = "escrow_funded"
	OutboxEscrowReleased     = "escrow_released"
	OutboxEscrowRefunded     = "escrow_refunded"
	OutboxEscrowDisputed     = "escrow_disputed"
	OutboxDisputeResolved    = "dispute_resolved"
	OutboxEscrowAutoReleased = "escrow_auto_released"
	OutboxEscrowAutoRefunded = "escrow_auto_refunded"
	OutboxEscrowCancelled    = "escrow_cancelled"
)

// ReferenceCurrency is the currency the new-account lifetime cap is
// evaluated in. Other currencies are converted into it before comparison.
const ReferenceCurrency = "TRY"

// RiskLevelFor maps a 0-100 risk score to a coarse level.
func RiskLevelFor(score int) string {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// IsTerminalEscrowStatus reports whether no further balance-affecting
// transition is legal from the given status.
func IsTerminalEscrowStatus(status string) bool {
	switch status {
	case EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusExpired:
		return true
	default:
		return false
	}
}
