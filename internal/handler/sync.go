package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/menolisa/billing/internal/store"
	billingstripe "github.com/menolisa/billing/internal/stripe"
)

// SyncHandler re-reads an account's subscription straight from Stripe,
// for when a webhook delivery was missed and the stored period end has
// drifted.
type SyncHandler struct {
	stripeClient *billingstripe.Client
	trials       *store.TrialStore
	logger       *slog.Logger
}

func NewSyncHandler(sc *billingstripe.Client, trials *store.TrialStore, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{stripeClient: sc, trials: trials, logger: logger}
}

// SyncSubscription handles POST /api/sync-subscription. Looks up the
// subscription by stored ID first, then falls back to the customer's
// active subscription.
func (h *SyncHandler) SyncSubscription(w http.ResponseWriter, r *http.Request) {
	if h.stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	accountID := AccountIDFromContext(r.Context())

	rec, err := h.trials.Get(accountID)
	if err != nil {
		h.logger.Error("get trial record", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"synced": false})
		return
	}

	var info *billingstripe.SubscriptionInfo
	if rec.StripeSubscriptionID != nil && *rec.StripeSubscriptionID != "" {
		info, err = h.stripeClient.LookupSubscription(r.Context(), *rec.StripeSubscriptionID)
		if err != nil {
			h.logger.Warn("lookup subscription", "account_id", accountID, "error", err)
		}
	}
	if info == nil && rec.StripeCustomerID != nil && *rec.StripeCustomerID != "" {
		info, err = h.stripeClient.ActiveSubscriptionForCustomer(r.Context(), *rec.StripeCustomerID)
		if err != nil {
			h.logger.Warn("lookup customer subscriptions", "account_id", accountID, "error", err)
		}
	}
	if info == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"synced": false})
		return
	}

	end := info.CancelAt
	if end == nil {
		end = info.PeriodEnd
	}

	fields := store.PaidFields{
		PeriodEnd: end,
		Canceled:  info.CancelAt != nil,
	}
	if info.ID != "" {
		fields.SubscriptionID = &info.ID
	}
	if rec.StripeCustomerID != nil {
		fields.CustomerID = rec.StripeCustomerID
	}

	if err := h.trials.UpsertPaid(accountID, fields, time.Now().UTC()); err != nil {
		h.logger.Error("sync subscription write", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to sync subscription")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"synced": true})
}
