package validator

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/creditmate/card-data-worker/internal/model"
)

const (
	maxTextLen   = 1000
	maxNameLen   = 255
	maxAnnualFee = 100000
	maxRateAPR   = 100
)

// freeTokens are parser outputs that mean an explicit zero amount. They
// are mapped to 0, never to null: "confirmed free" and "not extracted"
// are different facts.
var freeTokens = map[string]struct{}{
	"free": {}, "waived": {}, "none": {},
	"no fee": {}, "no annual fee": {}, "0": {},
}

// notStatedTokens are parser outputs that mean the document did not state
// the value. Mapped to null without an issue: "n/a" is not "free".
var notStatedTokens = map[string]struct{}{
	"n/a": {}, "na": {}, "nil": {}, "not stated": {}, "not applicable": {},
}

var currencyMarkers = []string{"tk.", "tk", "bdt", "us$", "$", "৳", "p.a.", "p.a", "per annum", "%", ","}

// RecordValidator sanitizes one raw structured record from the AI parser.
// It never fails a whole crawl attempt: a record missing its card name is
// dropped, everything else degrades per field with an issue code.
type RecordValidator struct {
	log *slog.Logger
}

func NewRecordValidator(log *slog.Logger) *RecordValidator {
	return &RecordValidator{log: log}
}

// Validate returns the sanitized record and whether it is usable at all.
// Per-field issues are attached to the record.
func (v *RecordValidator) Validate(raw model.RawCardRecord) (*model.CardData, bool) {
	name := strings.TrimSpace(stringField(raw, "name"))
	if name == "" {
		v.log.Warn("card record dropped: missing name.")
		return nil, false
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	card := &model.CardData{Name: name}

	card.AnnualFee = v.numericField(card, raw, "annual_fee", 0, maxAnnualFee)
	card.InterestRateAPR = v.numericField(card, raw, "interest_rate_apr", 0, maxRateAPR)

	card.LoungeAccessInternational = textField(raw, "lounge_access_international")
	card.LoungeAccessDomestic = textField(raw, "lounge_access_domestic")
	card.LoungeAccessCondition = textField(raw, "lounge_access_condition")
	card.CashAdvanceFee = textField(raw, "cash_advance_fee")
	card.LatePaymentFee = textField(raw, "late_payment_fee")
	card.RewardPointsPolicy = textField(raw, "reward_points_policy")
	card.FeeWaiverPolicy = waiverField(raw)
	card.AdditionalFeatures = featuresField(raw)

	if len(card.Issues) > 0 {
		v.log.Debug("card record sanitized with issues.", slog.String("name", name),
			slog.Any("issues", card.Issues))
	}

	return card, true
}

func (v *RecordValidator) numericField(card *model.CardData, raw model.RawCardRecord,
	field string, min, max float64) *float64 {
	value, present := raw[field]
	if !present || value == nil {
		return nil
	}
	if s, ok := value.(string); ok {
		if _, notStated := notStatedTokens[strings.ToLower(strings.TrimSpace(s))]; notStated {
			return nil
		}
	}

	parsed, ok := parseAmount(value)
	if !ok {
		card.Issues = append(card.Issues, fmt.Sprintf("%s: unparseable value %v", field, value))
		return nil
	}
	if parsed < min || parsed > max {
		card.Issues = append(card.Issues, fmt.Sprintf("%s: out of range %v", field, parsed))
		return nil
	}

	return &parsed
}

// parseAmount accepts numbers, numeric-looking text with currency noise,
// and explicit free/waived tokens (mapped to zero).
func parseAmount(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.ToLower(strings.TrimSpace(n))
		if s == "" {
			return 0, false
		}
		if _, ok := freeTokens[s]; ok {
			return 0, true
		}
		for _, marker := range currencyMarkers {
			s = strings.ReplaceAll(s, marker, "")
		}
		s = strings.TrimSpace(s)
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}

	return 0, false
}

func stringField(raw model.RawCardRecord, field string) string {
	if v, ok := raw[field].(string); ok {
		return v
	}
	return ""
}

// textField stringifies loosely typed descriptive fields; providers
// return lounge visit counts as numbers about as often as text.
func textField(raw model.RawCardRecord, field string) string {
	value, ok := raw[field]
	if !ok || value == nil {
		return ""
	}
	var s string
	switch t := value.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		s = fmt.Sprintf("%v", t)
	}
	s = strings.TrimSpace(s)
	if len(s) > maxTextLen {
		s = s[:maxTextLen]
	}

	return s
}

func waiverField(raw model.RawCardRecord) map[string]any {
	switch w := raw["annual_fee_waiver_policy"].(type) {
	case map[string]any:
		if len(w) > 0 {
			return w
		}
	case string:
		if s := strings.TrimSpace(w); s != "" {
			return map[string]any{"description": s}
		}
	}
	return nil
}

func featuresField(raw model.RawCardRecord) []string {
	list, ok := raw["additional_features"].([]any)
	if !ok {
		return nil
	}
	var features []string
	for _, f := range list {
		if f == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", f))
		if s != "" {
			features = append(features, s)
		}
	}

	return features
}
