package handler

import (
	"log/slog"
	"net/http"

	"github.com/menolisa/billing/internal/store"
	billingstripe "github.com/menolisa/billing/internal/stripe"
)

type CheckoutHandler struct {
	stripeClient *billingstripe.Client
	trials       *store.TrialStore
	returnURL    string
	logger       *slog.Logger
}

func NewCheckoutHandler(sc *billingstripe.Client, trials *store.TrialStore, returnURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{stripeClient: sc, trials: trials, returnURL: returnURL, logger: logger}
}

// CreateCheckoutSession handles POST /api/checkout.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	if h.stripeClient == nil {
		writeError(w, http.StatusServiceUnavailable, "billing not configured")
		return
	}
	accountID := AccountIDFromContext(r.Context())

	url, err := h.stripeClient.CreateCheckoutSession(accountID)
	if err != nil {
		h.logger.Error("create checkout session", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal handles POST /api/billing-portal. Requires the account to
// already be a Stripe customer.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
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
	if rec == nil || rec.StripeCustomerID == nil || *rec.StripeCustomerID == "" {
		writeError(w, http.StatusBadRequest, "no billing profile for account")
		return
	}

	url, err := h.stripeClient.CreateBillingPortalSession(*rec.StripeCustomerID, h.returnURL)
	if err != nil {
		h.logger.Error("create billing portal session", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
