package domain

import (
	"math"
	"time"
)

// CommissionEvent is a billable event type.
type CommissionEvent string

const (
	EventRegistration         CommissionEvent = "registration"
	EventSubscriptionPurchase CommissionEvent = "subscription_purchase"
	EventCoursePurchase       CommissionEvent = "course_purchase"
	EventServicePurchase      CommissionEvent = "service_purchase"
	EventRenewal              CommissionEvent = "renewal"
)

// CommissionEvents lists every billable event type.
var CommissionEvents = []CommissionEvent{
	EventRegistration,
	EventSubscriptionPurchase,
	EventCoursePurchase,
	EventServicePurchase,
	EventRenewal,
}

// Valid reports whether e is a known event type.
func (e CommissionEvent) Valid() bool {
	for _, known := range CommissionEvents {
		if e == known {
			return true
		}
	}
	return false
}

// MaxReferralTiers is the depth of the affiliate chain that gets paid.
const MaxReferralTiers = 3

// BasisPointsPerUnit is 100% expressed in basis points.
const BasisPointsPerUnit = 10000

// PercentToBasisPoints converts a decimal percent (25.5) to basis points (2550).
func PercentToBasisPoints(pct float64) int64 {
	return int64(math.Round(pct * 100))
}

// CommissionRule decides what a billable event pays.
// If both FlatCents and PercentBP are > 0 the flat amount wins.
type CommissionRule struct {
	EventType CommissionEvent `json:"event_type"`
	FlatCents int64           `json:"flat_cents"`
	PercentBP int64           `json:"percent_bp"` // 0..10000
	Active    bool            `json:"active"`
}

// Ambiguous reports whether both flat and percentage are set.
func (r CommissionRule) Ambiguous() bool {
	return r.FlatCents > 0 && r.PercentBP > 0
}

// TierShares are per-tier shares in basis points, tier 1 first.
type TierShares []int64

// Referral links a user to the user who referred them.
type Referral struct {
	UserID     string    `json:"user_id"`
	ReferrerID string    `json:"referrer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sale is a billable transaction.
type Sale struct {
	TransactionID string          `json:"transaction_id"`
	EventType     CommissionEvent `json:"event_type"`
	BuyerID       string          `json:"buyer_id"`
	ValueCents    int64           `json:"value_cents"`
}

// PayoutStatus tracks settlement by the payment gateway.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSettled PayoutStatus = "settled"
)

// CommissionPayout is one tier's commission for a transaction.
// Unique on (SourceTransactionID, Tier).
type CommissionPayout struct {
	ID                  string          `json:"id"`
	SourceTransactionID string          `json:"source_transaction_id"`
	EventType           CommissionEvent `json:"event_type"`
	Tier                int             `json:"tier"`
	BeneficiaryID       string          `json:"beneficiary_id"`
	AmountCents         int64           `json:"amount_cents"`
	Status              PayoutStatus    `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	SettledAt           time.Time       `json:"settled_at,omitempty"`
}
