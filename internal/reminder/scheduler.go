package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/menolisa/billing/internal/model"
	"github.com/menolisa/billing/internal/store"
	"github.com/menolisa/billing/internal/trial"
)

const defaultWorkers = 4

// Dispatcher sends a push notification to all of an account's devices.
type Dispatcher interface {
	SendToAccount(accountID, title, body string)
}

// Scheduler runs the daily trial reminder sweep. Accounts are independent
// and every step is idempotent, so an aborted run leaves valid dedup
// markers for the next one.
type Scheduler struct {
	mu            sync.RWMutex
	trials        *store.TrialStore
	notifications *store.NotificationStore
	dispatcher    Dispatcher
	logger        *slog.Logger
	hourUTC       int
	workers       int
	interval      time.Duration
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewScheduler creates a reminder scheduler that fires once a day at the
// given UTC hour.
func NewScheduler(trials *store.TrialStore, notifications *store.NotificationStore, dispatcher Dispatcher, logger *slog.Logger, hourUTC int) *Scheduler {
	return &Scheduler{
		trials:        trials,
		notifications: notifications,
		dispatcher:    dispatcher,
		logger:        logger,
		hourUTC:       hourUTC,
		workers:       defaultWorkers,
		interval:      time.Minute,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	if now.Hour() != s.hourUTC || now.Minute() != 0 {
		return
	}

	res, err := s.RunOnce(ctx, now)
	if err != nil {
		s.logger.Error("trial reminder run failed", "error", err)
		return
	}
	s.logger.Info("trial reminder run complete",
		"total", res.Total, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
}

// RunResult summarizes one reminder sweep.
type RunResult struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunOnce processes every non-paid account: derive state, classify, dedup
// against today's notifications, persist, push. Per-account failures are
// counted and logged, never batch-fatal; the returned error is non-nil only
// when the account listing itself fails.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (RunResult, error) {
	rows, err := s.trials.ListUnpaid()
	if err != nil {
		return RunResult{}, fmt.Errorf("list unpaid accounts: %w", err)
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var (
		mu      sync.Mutex
		res     = RunResult{Total: len(rows)}
		accErrs error
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, rec := range rows {
		g.Go(func() error {
			sent, err := s.processAccount(rec, now, dayStart)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				res.Failed++
				accErrs = multierr.Append(accErrs, fmt.Errorf("account %s: %w", rec.AccountID, err))
			case sent:
				res.Sent++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	g.Wait()

	if accErrs != nil {
		s.logger.Warn("trial reminder run had account errors",
			"failed", res.Failed, "error", accErrs)
	}
	return res, nil
}

func (s *Scheduler) processAccount(rec model.TrialRecord, now, dayStart time.Time) (bool, error) {
	st := trial.Derive(trial.FactsFor(rec), now)

	// Persist the expiry flip once time has run out, so later status
	// reads stop depending on the clock.
	if st.Expired && rec.AccountStatus != model.StatusExpired {
		if _, err := s.trials.ExpireByAccountID(rec.AccountID, now); err != nil {
			s.logger.Warn("persist expiry", "account_id", rec.AccountID, "error", err)
		}
	}

	state := Classify(st)
	if state == StateNone {
		return false, nil
	}

	exists, err := s.notifications.ExistsSince(rec.AccountID, model.NotifTypeTrial, dayStart)
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return false, nil
	}

	title, message, priority := Compose(state, st.DaysLeft)
	if _, err := s.notifications.Create(rec.AccountID, model.NotifTypeTrial, title, message, priority, now); err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}

	// Push is best-effort; the stored notification stands either way.
	if s.dispatcher != nil {
		s.dispatcher.SendToAccount(rec.AccountID, title, message)
	}

	s.logger.Debug("trial reminder sent",
		"account_id", rec.AccountID, "state", state.String(), "days_left", st.DaysLeft)
	return true, nil
}
