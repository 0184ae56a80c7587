package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/menolisa/billing/internal/model"
)

// TrialStore persists per-account trial and billing state. All writes are
// keyed upserts or predicate updates, so replaying the same logical change
// leaves the row unchanged.
type TrialStore struct {
	db *sql.DB
}

func NewTrialStore(db *sql.DB) *TrialStore {
	return &TrialStore{db: db}
}

const trialCols = `account_id, trial_start, trial_end, trial_days, account_status,
	stripe_customer_id, stripe_subscription_id, subscription_canceled, created_at, updated_at`

func scanTrial(scanner interface{ Scan(...any) error }) (*model.TrialRecord, error) {
	var rec model.TrialRecord
	var start, end sql.NullTime
	var customerID, subscriptionID sql.NullString
	var canceled int
	err := scanner.Scan(
		&rec.AccountID, &start, &end, &rec.TrialDays, &rec.AccountStatus,
		&customerID, &subscriptionID, &canceled, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		rec.TrialStart = &start.Time
	}
	if end.Valid {
		rec.TrialEnd = &end.Time
	}
	if customerID.Valid {
		rec.StripeCustomerID = &customerID.String
	}
	if subscriptionID.Valid {
		rec.StripeSubscriptionID = &subscriptionID.String
	}
	rec.SubscriptionCanceled = canceled != 0
	return &rec, nil
}

func (s *TrialStore) Get(accountID string) (*model.TrialRecord, error) {
	row := s.db.QueryRow(`SELECT `+trialCols+` FROM user_trials WHERE account_id = ?`, accountID)
	rec, err := scanTrial(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get trial record: %w", err)
	}
	return rec, nil
}

// EnsureStarted returns the trial record for the account, creating it with
// trial_start = now on first read. An existing record whose clock never
// started gets trial_start backfilled; anything else is left untouched.
func (s *TrialStore) EnsureStarted(accountID string, now time.Time) (*model.TrialRecord, error) {
	_, err := s.db.Exec(
		`INSERT INTO user_trials (account_id, trial_start, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   trial_start = COALESCE(user_trials.trial_start, excluded.trial_start),
		   updated_at = CASE WHEN user_trials.trial_start IS NULL
		                     THEN excluded.updated_at ELSE user_trials.updated_at END`,
		accountID, now.UTC(), now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("ensure trial started: %w", err)
	}
	return s.Get(accountID)
}

// PaidFields carries the event-derived fields for UpsertPaid. Nil pointers
// mean the event did not carry the value, and any stored value is kept.
type PaidFields struct {
	PeriodEnd      *time.Time
	CustomerID     *string
	SubscriptionID *string
	Canceled       bool
}

// UpsertPaid marks the account paid, creating the record if the payment
// event arrived before the account's first trial read.
func (s *TrialStore) UpsertPaid(accountID string, f PaidFields, now time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO user_trials (account_id, account_status, trial_end,
		    stripe_customer_id, stripe_subscription_id, subscription_canceled, created_at, updated_at)
		 VALUES (?, 'paid', ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   account_status = 'paid',
		   trial_end = COALESCE(excluded.trial_end, user_trials.trial_end),
		   stripe_customer_id = COALESCE(excluded.stripe_customer_id, user_trials.stripe_customer_id),
		   stripe_subscription_id = COALESCE(excluded.stripe_subscription_id, user_trials.stripe_subscription_id),
		   subscription_canceled = excluded.subscription_canceled,
		   updated_at = excluded.updated_at`,
		accountID, nullTime(f.PeriodEnd), f.CustomerID, f.SubscriptionID,
		boolInt(f.Canceled), now.UTC(), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert paid: %w", err)
	}
	return nil
}

// SetPeriodEndBySubscriptionID updates the billing period end for the record
// holding the given subscription ID. Returns the number of rows matched.
func (s *TrialStore) SetPeriodEndBySubscriptionID(subscriptionID string, end time.Time, canceled bool, now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE user_trials SET trial_end = ?, subscription_canceled = ?, updated_at = ?
		 WHERE stripe_subscription_id = ?`,
		end.UTC(), boolInt(canceled), now.UTC(), subscriptionID,
	)
	if err != nil {
		return 0, fmt.Errorf("set period end by subscription: %w", err)
	}
	return result.RowsAffected()
}

// SetPeriodEndByAccountID updates the billing period end for the account's
// record, adopting the event's subscription ID when the record has none.
// Returns the number of rows matched.
func (s *TrialStore) SetPeriodEndByAccountID(accountID, subscriptionID string, end time.Time, canceled bool, now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE user_trials SET trial_end = ?, subscription_canceled = ?,
		   stripe_subscription_id = COALESCE(NULLIF(?, ''), stripe_subscription_id),
		   updated_at = ?
		 WHERE account_id = ?`,
		end.UTC(), boolInt(canceled), subscriptionID, now.UTC(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("set period end by account: %w", err)
	}
	return result.RowsAffected()
}

// ExpireBySubscriptionID flips the matching record to expired. Returns the
// number of rows matched.
func (s *TrialStore) ExpireBySubscriptionID(subscriptionID string, now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE user_trials SET account_status = 'expired', updated_at = ?
		 WHERE stripe_subscription_id = ?`,
		now.UTC(), subscriptionID,
	)
	if err != nil {
		return 0, fmt.Errorf("expire by subscription: %w", err)
	}
	return result.RowsAffected()
}

// ExpireByAccountID flips the account's record to expired. Returns the
// number of rows matched.
func (s *TrialStore) ExpireByAccountID(accountID string, now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE user_trials SET account_status = 'expired', updated_at = ?
		 WHERE account_id = ?`,
		now.UTC(), accountID,
	)
	if err != nil {
		return 0, fmt.Errorf("expire by account: %w", err)
	}
	return result.RowsAffected()
}

// ListUnpaid returns every record whose account is not paid, the reminder
// scheduler's working set.
func (s *TrialStore) ListUnpaid() ([]model.TrialRecord, error) {
	rows, err := s.db.Query(
		`SELECT ` + trialCols + ` FROM user_trials WHERE account_status != 'paid' ORDER BY account_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unpaid: %w", err)
	}
	defer rows.Close()

	var recs []model.TrialRecord
	for rows.Next() {
		rec, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trial record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *TrialStore) Delete(accountID string) error {
	_, err := s.db.Exec(`DELETE FROM user_trials WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete trial record: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
