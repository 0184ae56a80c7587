package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/menolisa/billing/internal/model"
	"github.com/menolisa/billing/internal/reconcile"
	billingstripe "github.com/menolisa/billing/internal/stripe"
)

type WebhookHandler struct {
	stripeClient *billingstripe.Client
	reconciler   *reconcile.Reconciler
	logger       *slog.Logger
}

func NewWebhookHandler(sc *billingstripe.Client, rec *reconcile.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{stripeClient: sc, reconciler: rec, logger: logger}
}

// HandleStripeWebhook handles POST /webhooks/stripe. A non-2xx response
// makes Stripe retry the delivery, so only a failed store write earns one;
// malformed or unrecognized events are acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	event, err := h.stripeClient.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ev, ok := h.decodeEvent(event)
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.Apply(r.Context(), ev); err != nil {
		h.logger.Error("apply billing event", "type", event.Type, "error", err)
		http.Error(w, "event not applied", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// decodeEvent maps a Stripe event to the internal billing event. ok is
// false for event types this service ignores or payloads that fail to
// decode.
func (h *WebhookHandler) decodeEvent(event stripe.Event) (model.BillingEvent, bool) {
	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			h.logger.Warn("unmarshal checkout session", "error", err)
			return model.BillingEvent{}, false
		}
		ev := model.BillingEvent{
			Kind:      model.EventCheckoutCompleted,
			AccountID: sess.ClientReferenceID,
		}
		if ev.AccountID == "" {
			ev.AccountID = sess.Metadata["account_id"]
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		return ev, true

	case "customer.subscription.updated":
		sub, ok := h.decodeSubscription(event)
		if !ok {
			return model.BillingEvent{}, false
		}
		ev := model.BillingEvent{
			Kind:           model.EventSubscriptionUpdated,
			AccountID:      sub.Metadata["account_id"],
			SubscriptionID: sub.ID,
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		ev.PeriodEnd, ev.CancelAt = billingstripe.PeriodInfo(sub)
		return ev, true

	case "customer.subscription.deleted":
		sub, ok := h.decodeSubscription(event)
		if !ok {
			return model.BillingEvent{}, false
		}
		ev := model.BillingEvent{
			Kind:           model.EventSubscriptionDeleted,
			AccountID:      sub.Metadata["account_id"],
			SubscriptionID: sub.ID,
		}
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		return ev, true
	}

	return model.BillingEvent{}, false
}

func (h *WebhookHandler) decodeSubscription(event stripe.Event) (*stripe.Subscription, bool) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Warn("unmarshal subscription", "type", event.Type, "error", err)
		return nil, false
	}
	return &sub, true
}
