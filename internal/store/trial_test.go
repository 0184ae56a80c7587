package store

import (
	"testing"
	"time"

	"github.com/menolisa/billing/internal/database"
	"github.com/menolisa/billing/internal/model"
)

func setupTrialTestDB(t *testing.T) *TrialStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTrialStore(db)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const acctA = "11111111-1111-1111-1111-111111111111"
const acctB = "22222222-2222-2222-2222-222222222222"

func TestGetNotFound(t *testing.T) {
	ts := setupTrialTestDB(t)

	rec, err := ts.Get(acctA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec != nil {
		t.Error("expected nil for unknown account")
	}
}

func TestEnsureStartedCreates(t *testing.T) {
	ts := setupTrialTestDB(t)

	rec, err := ts.EnsureStarted(acctA, testNow)
	if err != nil {
		t.Fatalf("ensure started: %v", err)
	}
	if rec.TrialStart == nil || !rec.TrialStart.Equal(testNow) {
		t.Errorf("trial_start = %v, want %v", rec.TrialStart, testNow)
	}
	if rec.AccountStatus != model.StatusTrial {
		t.Errorf("account_status = %q, want trial", rec.AccountStatus)
	}
	if rec.TrialDays != model.DefaultTrialDays {
		t.Errorf("trial_days = %d, want %d", rec.TrialDays, model.DefaultTrialDays)
	}
}

func TestEnsureStartedIdempotent(t *testing.T) {
	ts := setupTrialTestDB(t)

	first, err := ts.EnsureStarted(acctA, testNow)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := ts.EnsureStarted(acctA, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if !second.TrialStart.Equal(*first.TrialStart) {
		t.Errorf("trial_start moved from %v to %v", first.TrialStart, second.TrialStart)
	}
}

func TestEnsureStartedKeepsPaidRecord(t *testing.T) {
	ts := setupTrialTestDB(t)

	end := testNow.Add(30 * 24 * time.Hour)
	subID := "sub_123"
	if err := ts.UpsertPaid(acctA, PaidFields{PeriodEnd: &end, SubscriptionID: &subID}, testNow); err != nil {
		t.Fatalf("upsert paid: %v", err)
	}

	rec, err := ts.EnsureStarted(acctA, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("ensure started: %v", err)
	}
	if rec.AccountStatus != model.StatusPaid {
		t.Errorf("account_status = %q, want paid preserved", rec.AccountStatus)
	}
	if rec.TrialStart == nil {
		t.Error("trial_start should be backfilled for a paid record without one")
	}
}

func TestUpsertPaidCreates(t *testing.T) {
	ts := setupTrialTestDB(t)

	end := testNow.Add(30 * 24 * time.Hour)
	custID := "cus_123"
	subID := "sub_123"
	err := ts.UpsertPaid(acctA, PaidFields{PeriodEnd: &end, CustomerID: &custID, SubscriptionID: &subID}, testNow)
	if err != nil {
		t.Fatalf("upsert paid: %v", err)
	}

	rec, _ := ts.Get(acctA)
	if rec == nil {
		t.Fatal("record not created")
	}
	if rec.AccountStatus != model.StatusPaid {
		t.Errorf("account_status = %q, want paid", rec.AccountStatus)
	}
	if rec.TrialEnd == nil || !rec.TrialEnd.Equal(end) {
		t.Errorf("trial_end = %v, want %v", rec.TrialEnd, end)
	}
	if rec.StripeSubscriptionID == nil || *rec.StripeSubscriptionID != subID {
		t.Errorf("subscription id = %v", rec.StripeSubscriptionID)
	}
}

func TestUpsertPaidKeepsStoredFields(t *testing.T) {
	ts := setupTrialTestDB(t)

	end := testNow.Add(30 * 24 * time.Hour)
	custID := "cus_123"
	subID := "sub_123"
	if err := ts.UpsertPaid(acctA, PaidFields{PeriodEnd: &end, CustomerID: &custID, SubscriptionID: &subID}, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A sparser replay must not blank out what is already stored.
	if err := ts.UpsertPaid(acctA, PaidFields{}, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("replay: %v", err)
	}

	rec, _ := ts.Get(acctA)
	if rec.TrialEnd == nil || !rec.TrialEnd.Equal(end) {
		t.Errorf("trial_end lost: %v", rec.TrialEnd)
	}
	if rec.StripeCustomerID == nil || *rec.StripeCustomerID != custID {
		t.Errorf("customer id lost: %v", rec.StripeCustomerID)
	}
	if rec.StripeSubscriptionID == nil || *rec.StripeSubscriptionID != subID {
		t.Errorf("subscription id lost: %v", rec.StripeSubscriptionID)
	}
}

func TestSetPeriodEndBySubscriptionID(t *testing.T) {
	ts := setupTrialTestDB(t)

	subID := "sub_123"
	if err := ts.UpsertPaid(acctA, PaidFields{SubscriptionID: &subID}, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}

	end := testNow.Add(60 * 24 * time.Hour)
	n, err := ts.SetPeriodEndBySubscriptionID(subID, end, true, testNow)
	if err != nil {
		t.Fatalf("set period end: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	rec, _ := ts.Get(acctA)
	if rec.TrialEnd == nil || !rec.TrialEnd.Equal(end) {
		t.Errorf("trial_end = %v, want %v", rec.TrialEnd, end)
	}
	if !rec.SubscriptionCanceled {
		t.Error("subscription_canceled not set")
	}

	n, err = ts.SetPeriodEndBySubscriptionID("sub_unknown", end, false, testNow)
	if err != nil {
		t.Fatalf("set period end unknown: %v", err)
	}
	if n != 0 {
		t.Errorf("rows = %d, want 0 for unknown subscription", n)
	}
}

func TestSetPeriodEndByAccountIDAdoptsSubscription(t *testing.T) {
	ts := setupTrialTestDB(t)

	if _, err := ts.EnsureStarted(acctA, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}

	end := testNow.Add(60 * 24 * time.Hour)
	n, err := ts.SetPeriodEndByAccountID(acctA, "sub_new", end, false, testNow)
	if err != nil {
		t.Fatalf("set period end: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	rec, _ := ts.Get(acctA)
	if rec.StripeSubscriptionID == nil || *rec.StripeSubscriptionID != "sub_new" {
		t.Errorf("subscription id = %v, want adopted", rec.StripeSubscriptionID)
	}

	// An empty event subscription ID must not erase the stored one.
	if _, err := ts.SetPeriodEndByAccountID(acctA, "", end, false, testNow); err != nil {
		t.Fatalf("second update: %v", err)
	}
	rec, _ = ts.Get(acctA)
	if rec.StripeSubscriptionID == nil || *rec.StripeSubscriptionID != "sub_new" {
		t.Errorf("subscription id erased: %v", rec.StripeSubscriptionID)
	}
}

func TestExpireFallbacks(t *testing.T) {
	ts := setupTrialTestDB(t)

	subID := "sub_123"
	if err := ts.UpsertPaid(acctA, PaidFields{SubscriptionID: &subID}, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := ts.ExpireBySubscriptionID(subID, testNow)
	if err != nil {
		t.Fatalf("expire by subscription: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
	rec, _ := ts.Get(acctA)
	if rec.AccountStatus != model.StatusExpired {
		t.Errorf("account_status = %q, want expired", rec.AccountStatus)
	}

	if _, err := ts.EnsureStarted(acctB, testNow); err != nil {
		t.Fatalf("seed second: %v", err)
	}
	n, err = ts.ExpireByAccountID(acctB, testNow)
	if err != nil {
		t.Fatalf("expire by account: %v", err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}

	n, _ = ts.ExpireBySubscriptionID("sub_unknown", testNow)
	if n != 0 {
		t.Errorf("rows = %d, want 0 for unknown subscription", n)
	}
}

func TestListUnpaid(t *testing.T) {
	ts := setupTrialTestDB(t)

	if _, err := ts.EnsureStarted(acctA, testNow); err != nil {
		t.Fatalf("seed trial: %v", err)
	}
	end := testNow.Add(30 * 24 * time.Hour)
	if err := ts.UpsertPaid(acctB, PaidFields{PeriodEnd: &end}, testNow); err != nil {
		t.Fatalf("seed paid: %v", err)
	}

	recs, err := ts.ListUnpaid()
	if err != nil {
		t.Fatalf("list unpaid: %v", err)
	}
	if len(recs) != 1 || recs[0].AccountID != acctA {
		t.Errorf("unpaid = %+v, want only the trialing account", recs)
	}

	// Expired accounts stay in the sweep so the ended notice can go out.
	if _, err := ts.ExpireByAccountID(acctA, testNow); err != nil {
		t.Fatalf("expire: %v", err)
	}
	recs, _ = ts.ListUnpaid()
	if len(recs) != 1 {
		t.Errorf("expired account dropped from unpaid list")
	}
}

func TestDelete(t *testing.T) {
	ts := setupTrialTestDB(t)

	if _, err := ts.EnsureStarted(acctA, testNow); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := ts.Delete(acctA); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rec, _ := ts.Get(acctA)
	if rec != nil {
		t.Error("record survived delete")
	}
}
