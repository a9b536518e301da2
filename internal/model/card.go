package model

import (
	"strings"
	"time"
)

// RawCardRecord is one structured record exactly as produced by the AI
// parser. Treated as untrusted input until it passes the validator.
type RawCardRecord map[string]any

// CardData is a validated credit-card record ready for reconciliation.
// Numeric fields are pointers: nil means "not extracted" and must never
// collapse to zero, which means "confirmed free".
type CardData struct {
	Name                      string         `json:"name"`
	AnnualFee                 *float64       `json:"annual_fee"`
	InterestRateAPR           *float64       `json:"interest_rate_apr"`
	LoungeAccessInternational string         `json:"lounge_access_international,omitempty"`
	LoungeAccessDomestic      string         `json:"lounge_access_domestic,omitempty"`
	LoungeAccessCondition     string         `json:"lounge_access_condition,omitempty"`
	CashAdvanceFee            string         `json:"cash_advance_fee,omitempty"`
	LatePaymentFee            string         `json:"late_payment_fee,omitempty"`
	FeeWaiverPolicy           map[string]any `json:"annual_fee_waiver_policy,omitempty"`
	RewardPointsPolicy        string         `json:"reward_points_policy,omitempty"`
	AdditionalFeatures        []string       `json:"additional_features,omitempty"`
	Issues                    []string       `json:"-"`
}

// NameKey returns the normalized key used for (bank, name) uniqueness.
func (c *CardData) NameKey() string {
	return strings.ToLower(strings.TrimSpace(c.Name))
}

// CreditCard is a catalogue row for one card product of one bank.
type CreditCard struct {
	ID                        int64          `json:"id"`
	BankID                    int64          `json:"bank_id"`
	Name                      string         `json:"name"`
	AnnualFee                 *float64       `json:"annual_fee"`
	InterestRateAPR           *float64       `json:"interest_rate_apr"`
	LoungeAccessInternational string         `json:"lounge_access_international,omitempty"`
	LoungeAccessDomestic      string         `json:"lounge_access_domestic,omitempty"`
	LoungeAccessCondition     string         `json:"lounge_access_condition,omitempty"`
	CashAdvanceFee            string         `json:"cash_advance_fee,omitempty"`
	LatePaymentFee            string         `json:"late_payment_fee,omitempty"`
	FeeWaiverPolicy           map[string]any `json:"annual_fee_waiver_policy,omitempty"`
	RewardPointsPolicy        string         `json:"reward_points_policy,omitempty"`
	AdditionalFeatures        []string       `json:"additional_features,omitempty"`
	Active                    bool           `json:"active"`
	CrawlRecordID             *int64         `json:"crawl_record_id,omitempty"`
	CreatedAt                 time.Time      `json:"created_at"`
	UpdatedAt                 time.Time      `json:"updated_at"`
}
