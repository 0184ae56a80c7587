package reminder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/menolisa/billing/internal/database"
	"github.com/menolisa/billing/internal/model"
	"github.com/menolisa/billing/internal/store"
	"github.com/menolisa/billing/internal/trial"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	sends []string
}

func (d *recordingDispatcher) SendToAccount(accountID, title, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, accountID)
}

func setupScheduler(t *testing.T) (*Scheduler, *store.TrialStore, *store.NotificationStore, *recordingDispatcher) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	trials := store.NewTrialStore(db)
	notifications := store.NewNotificationStore(db)
	dispatcher := &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewScheduler(trials, notifications, dispatcher, logger, 9), trials, notifications, dispatcher
}

const accountA = "11111111-1111-1111-1111-111111111111"
const accountB = "22222222-2222-2222-2222-222222222222"

func TestRunOnceSendsWarning(t *testing.T) {
	s, trials, notifications, dispatcher := setupScheduler(t)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	start := now.Add(-25 * time.Hour) // just under 2 days remaining
	if _, err := trials.EnsureStarted(accountA, start); err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	res, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Total != 1 || res.Sent != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 sent of 1", res)
	}

	rows, err := notifications.ListByAccount(accountA, 0)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d notifications, want 1", len(rows))
	}
	if rows[0].Title != "Trial Ending Soon" {
		t.Errorf("title = %q", rows[0].Title)
	}
	if rows[0].Priority != model.PriorityMedium {
		t.Errorf("priority = %q", rows[0].Priority)
	}
	if len(dispatcher.sends) != 1 || dispatcher.sends[0] != accountA {
		t.Errorf("dispatcher sends = %v", dispatcher.sends)
	}
}

func TestRunOnceDedupsWithinDay(t *testing.T) {
	s, trials, notifications, _ := setupScheduler(t)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if _, err := trials.EnsureStarted(accountA, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	if _, err := s.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := s.RunOnce(context.Background(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Sent != 0 || res.Skipped != 1 {
		t.Errorf("second run = %+v, want all skipped", res)
	}

	rows, _ := notifications.ListByAccount(accountA, 0)
	if len(rows) != 1 {
		t.Errorf("got %d notifications after two runs, want 1", len(rows))
	}
}

func TestRunOnceSendsNextDay(t *testing.T) {
	s, trials, notifications, _ := setupScheduler(t)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if _, err := trials.EnsureStarted(accountA, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	if _, err := s.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := s.RunOnce(context.Background(), now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("next day run: %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("next day run = %+v, want 1 sent", res)
	}

	rows, _ := notifications.ListByAccount(accountA, 0)
	if len(rows) != 2 {
		t.Errorf("got %d notifications across two days, want 2", len(rows))
	}
}

func TestRunOnceSkipsPaidAccounts(t *testing.T) {
	s, trials, _, dispatcher := setupScheduler(t)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if _, err := trials.EnsureStarted(accountA, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("seed trial: %v", err)
	}
	end := now.Add(30 * 24 * time.Hour)
	if err := trials.UpsertPaid(accountB, store.PaidFields{PeriodEnd: &end}, now); err != nil {
		t.Fatalf("seed paid account: %v", err)
	}

	res, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Total != 1 {
		t.Errorf("total = %d, want paid account excluded", res.Total)
	}
	for _, id := range dispatcher.sends {
		if id == accountB {
			t.Error("paid account received a reminder")
		}
	}
}

func TestRunOncePersistsExpiry(t *testing.T) {
	s, trials, notifications, _ := setupScheduler(t)

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if _, err := trials.EnsureStarted(accountA, now.Add(-96*time.Hour)); err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	if _, err := s.RunOnce(context.Background(), now); err != nil {
		t.Fatalf("run once: %v", err)
	}

	rec, err := trials.Get(accountA)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.AccountStatus != model.StatusExpired {
		t.Errorf("account_status = %q, want expired", rec.AccountStatus)
	}

	rows, _ := notifications.ListByAccount(accountA, 0)
	if len(rows) != 1 || rows[0].Title != "Trial ended" {
		t.Errorf("notifications = %+v, want one expiry notice", rows)
	}
}

func TestRunOnceNilDispatcher(t *testing.T) {
	s, trials, _, _ := setupScheduler(t)
	s.dispatcher = nil

	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	if _, err := trials.EnsureStarted(accountA, now.Add(-25*time.Hour)); err != nil {
		t.Fatalf("seed trial: %v", err)
	}

	res, err := s.RunOnce(context.Background(), now)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if res.Sent != 1 {
		t.Errorf("sent = %d, want notification stored without push", res.Sent)
	}
}

// Full lifecycle: warning sweep, expiry by clock, payment, then silence.
func TestTrialLifecycle(t *testing.T) {
	s, trials, notifications, _ := setupScheduler(t)

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := trials.EnsureStarted(accountA, start); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// T+2.5d: one warning notification.
	res, err := s.RunOnce(context.Background(), start.Add(60*time.Hour))
	if err != nil {
		t.Fatalf("warning sweep: %v", err)
	}
	if res.Sent != 1 {
		t.Fatalf("warning sweep = %+v, want 1 sent", res)
	}
	rows, _ := notifications.ListByAccount(accountA, 0)
	if len(rows) != 1 || rows[0].Title != "Trial Ending Soon" {
		t.Fatalf("notifications = %+v", rows)
	}

	// T+3.1d: derivation alone reports expiry, no sweep needed.
	rec, _ := trials.Get(accountA)
	st := trial.ForRecord(*rec, start.Add(74*time.Hour+24*time.Minute))
	if !st.Expired || st.DaysLeft != 0 {
		t.Fatalf("status = %+v, want expired", st)
	}

	// Payment lands.
	end := start.Add(33 * 24 * time.Hour)
	if err := trials.UpsertPaid(accountA, store.PaidFields{PeriodEnd: &end}, start.Add(75*time.Hour)); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	// Paid accounts drop out of the sweep entirely.
	res, err = s.RunOnce(context.Background(), start.Add(4*24*time.Hour))
	if err != nil {
		t.Fatalf("post-payment sweep: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("post-payment sweep = %+v, want empty working set", res)
	}
}

func TestStartStop(t *testing.T) {
	s, _, _, _ := setupScheduler(t)
	s.interval = 10 * time.Millisecond

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
