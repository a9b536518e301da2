package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/creditmate/card-data-worker/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// CardStorage reconciles validated card records into the catalogue.
// Lookup key is (bank_id, lowercased name); fields absent in the incoming
// record leave the stored value untouched. The whole batch for one source
// is a single transaction so a storage failure never half-commits.
type CardStorage interface {
	UpsertCards(ctx context.Context, bankID, crawlRecordID int64, cards []*model.CardData) (int, error)
}

type CardRepository struct {
	db  *sql.DB
	log *slog.Logger
}

func NewCardRepository(db *sql.DB, log *slog.Logger) *CardRepository {
	return &CardRepository{db: db, log: log}
}

const upsertCardQuery = `INSERT INTO credit_cards
	(bank_id, name, name_key, annual_fee, interest_rate_apr,
	 lounge_access_international, lounge_access_domestic, lounge_access_condition,
	 cash_advance_fee, late_payment_fee, fee_waiver_policy, reward_points_policy,
	 additional_features, active, crawl_record_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE, ?)
	ON DUPLICATE KEY UPDATE
	 name = VALUES(name),
	 annual_fee = COALESCE(VALUES(annual_fee), annual_fee),
	 interest_rate_apr = COALESCE(VALUES(interest_rate_apr), interest_rate_apr),
	 lounge_access_international = IF(VALUES(lounge_access_international) = '', lounge_access_international, VALUES(lounge_access_international)),
	 lounge_access_domestic = IF(VALUES(lounge_access_domestic) = '', lounge_access_domestic, VALUES(lounge_access_domestic)),
	 lounge_access_condition = IF(VALUES(lounge_access_condition) = '', lounge_access_condition, VALUES(lounge_access_condition)),
	 cash_advance_fee = IF(VALUES(cash_advance_fee) = '', cash_advance_fee, VALUES(cash_advance_fee)),
	 late_payment_fee = IF(VALUES(late_payment_fee) = '', late_payment_fee, VALUES(late_payment_fee)),
	 fee_waiver_policy = COALESCE(VALUES(fee_waiver_policy), fee_waiver_policy),
	 reward_points_policy = IF(VALUES(reward_points_policy) = '', reward_points_policy, VALUES(reward_points_policy)),
	 additional_features = COALESCE(VALUES(additional_features), additional_features),
	 active = TRUE,
	 crawl_record_id = VALUES(crawl_record_id)`

func (cr *CardRepository) UpsertCards(ctx context.Context, bankID, crawlRecordID int64,
	cards []*model.CardData) (int, error) {
	tx, err := cr.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reconcile transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	updated := 0
	for _, card := range cards {
		waiver, err := marshalNullable(card.FeeWaiverPolicy, len(card.FeeWaiverPolicy) > 0)
		if err != nil {
			return 0, fmt.Errorf("marshal fee waiver policy: %w", err)
		}
		features, err := marshalNullable(card.AdditionalFeatures, len(card.AdditionalFeatures) > 0)
		if err != nil {
			return 0, fmt.Errorf("marshal additional features: %w", err)
		}

		_, err = tx.ExecContext(ctx, upsertCardQuery,
			bankID,
			card.Name,
			card.NameKey(),
			card.AnnualFee,
			card.InterestRateAPR,
			card.LoungeAccessInternational,
			card.LoungeAccessDomestic,
			card.LoungeAccessCondition,
			card.CashAdvanceFee,
			card.LatePaymentFee,
			waiver,
			card.RewardPointsPolicy,
			features,
			crawlRecordID)
		if err != nil {
			return 0, fmt.Errorf("upsert card %q: %w", card.Name, err)
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reconcile transaction: %w", err)
	}
	cr.log.Debug("cards reconciled.", slog.Int64("bank_id", bankID), slog.Int("count", updated))

	return updated, nil
}

// marshalNullable returns NULL for absent values so the upsert's COALESCE
// keeps the stored value instead of clearing it.
func marshalNullable(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := jsoniter.Marshal(v)
	if err != nil {
		return nil, err
	}

	return string(b), nil
}
