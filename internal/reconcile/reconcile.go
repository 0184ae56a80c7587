// Package reconcile folds inbound billing-provider events into the trial
// store. Delivery is at-least-once and unordered, so every write is a keyed
// upsert or predicate update: applying the same event twice leaves the
// record exactly as one application would, and checkout completions racing
// subscription updates converge to the same final state.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/menolisa/billing/internal/model"
	"github.com/menolisa/billing/internal/store"
)

// SubscriptionLookup fetches the current billing period for a subscription.
// Implemented by the Stripe client; stubbed in tests.
type SubscriptionLookup interface {
	SubscriptionPeriod(ctx context.Context, subscriptionID string) (periodEnd, cancelAt *time.Time, err error)
}

// Reconciler applies billing events to the trial store.
type Reconciler struct {
	trials *store.TrialStore
	lookup SubscriptionLookup
	logger *slog.Logger
	now    func() time.Time
}

func New(trials *store.TrialStore, lookup SubscriptionLookup, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		trials: trials,
		lookup: lookup,
		logger: logger,
		now:    time.Now,
	}
}

// Apply folds one event into the store. A returned error means the write
// did not land and the delivery should be retried by the provider;
// everything else degrades to a logged no-op.
func (r *Reconciler) Apply(ctx context.Context, ev model.BillingEvent) error {
	switch ev.Kind {
	case model.EventCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev)
	case model.EventSubscriptionUpdated:
		return r.applySubscriptionUpdated(ev)
	case model.EventSubscriptionDeleted:
		return r.applySubscriptionDeleted(ev)
	default:
		// Unrecognized kinds are acknowledged for forward compatibility.
		return nil
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev model.BillingEvent) error {
	if ev.AccountID == "" {
		// Some completions carry no account reference; nothing to act on.
		r.logger.Warn("checkout completed without account reference",
			"subscription_id", ev.SubscriptionID)
		return nil
	}

	fields := store.PaidFields{}
	if ev.CustomerID != "" {
		fields.CustomerID = &ev.CustomerID
	}
	if ev.SubscriptionID != "" {
		fields.SubscriptionID = &ev.SubscriptionID
		if periodEnd, cancelAt, err := r.lookupPeriod(ctx, ev.SubscriptionID); err != nil {
			// Mark paid anyway with the period unset; a later
			// subscription update fills it in.
			r.logger.Warn("subscription lookup failed",
				"subscription_id", ev.SubscriptionID, "error", err)
		} else {
			fields.Canceled = cancelAt != nil
			if cancelAt != nil {
				fields.PeriodEnd = cancelAt
			} else {
				fields.PeriodEnd = periodEnd
			}
		}
	}

	if err := r.trials.UpsertPaid(ev.AccountID, fields, r.now().UTC()); err != nil {
		return fmt.Errorf("mark account paid: %w", err)
	}

	r.logger.Info("checkout completed", "account_id", ev.AccountID,
		"subscription_id", ev.SubscriptionID)
	return nil
}

func (r *Reconciler) lookupPeriod(ctx context.Context, subscriptionID string) (periodEnd, cancelAt *time.Time, err error) {
	if r.lookup == nil {
		return nil, nil, fmt.Errorf("no subscription lookup configured")
	}
	return r.lookup.SubscriptionPeriod(ctx, subscriptionID)
}

// matchStep is one attempt in a fallback chain: run reports how many rows
// it matched, and the next step runs only on zero.
type matchStep struct {
	name string
	run  func() (int64, error)
}

func (r *Reconciler) applyFallbackChain(kind string, steps []matchStep) error {
	for _, step := range steps {
		n, err := step.run()
		if err != nil {
			return fmt.Errorf("%s via %s: %w", kind, step.name, err)
		}
		if n > 0 {
			r.logger.Debug("event applied", "kind", kind, "step", step.name, "rows", n)
			return nil
		}
	}
	r.logger.Warn("event matched no record", "kind", kind)
	return nil
}

func (r *Reconciler) applySubscriptionUpdated(ev model.BillingEvent) error {
	// A cancellation-at-period-end moves the authoritative end instant to
	// cancel_at; otherwise the renewed period end applies.
	end := ev.CancelAt
	if end == nil {
		end = ev.PeriodEnd
	}
	if end == nil {
		// Nothing to update.
		return nil
	}
	canceled := ev.CancelAt != nil
	now := r.now().UTC()

	// Updates can outrun the checkout completion that would normally
	// create the record, so the last step creates it. No ordering guard:
	// an update processed after a delete wins.
	return r.applyFallbackChain("subscription update", []matchStep{
		{"subscription_id", func() (int64, error) {
			if ev.SubscriptionID == "" {
				return 0, nil
			}
			return r.trials.SetPeriodEndBySubscriptionID(ev.SubscriptionID, *end, canceled, now)
		}},
		{"account_ref", func() (int64, error) {
			if ev.AccountID == "" {
				return 0, nil
			}
			return r.trials.SetPeriodEndByAccountID(ev.AccountID, ev.SubscriptionID, *end, canceled, now)
		}},
		{"create", func() (int64, error) {
			if ev.AccountID == "" {
				return 0, nil
			}
			fields := store.PaidFields{PeriodEnd: end, Canceled: canceled}
			if ev.SubscriptionID != "" {
				fields.SubscriptionID = &ev.SubscriptionID
			}
			if ev.CustomerID != "" {
				fields.CustomerID = &ev.CustomerID
			}
			if err := r.trials.UpsertPaid(ev.AccountID, fields, now); err != nil {
				return 0, err
			}
			return 1, nil
		}},
	})
}

func (r *Reconciler) applySubscriptionDeleted(ev model.BillingEvent) error {
	now := r.now().UTC()

	return r.applyFallbackChain("subscription delete", []matchStep{
		{"subscription_id", func() (int64, error) {
			if ev.SubscriptionID == "" {
				return 0, nil
			}
			return r.trials.ExpireBySubscriptionID(ev.SubscriptionID, now)
		}},
		{"account_ref", func() (int64, error) {
			if ev.AccountID == "" {
				return 0, nil
			}
			return r.trials.ExpireByAccountID(ev.AccountID, now)
		}},
	})
}
