// Package stripe wraps the Stripe API surface this service touches:
// webhook signature verification, subscription period lookups, and
// checkout/portal session creation.
package stripe

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/sethvargo/go-retry"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	SuccessURL    string
	CancelURL     string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// ConstructWebhookEvent verifies the payload signature (constant-time
// compare plus timestamp tolerance) and returns the parsed event. API
// version mismatches are tolerated; the decoders only read fields that
// are stable across versions.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

// SubscriptionInfo is the slice of a Stripe subscription this service
// cares about.
type SubscriptionInfo struct {
	ID        string
	PeriodEnd *time.Time
	CancelAt  *time.Time
}

const lookupTimeout = 10 * time.Second

// LookupSubscription fetches the subscription's current period end and
// cancellation instant, retrying transient failures briefly.
func (c *Client) LookupSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var sub *stripe.Subscription
	backoff := retry.WithMaxRetries(2, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		got, err := subscription.Get(subscriptionID, params)
		if err != nil {
			return retry.RetryableError(err)
		}
		sub = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}

	periodEnd, cancelAt := PeriodInfo(sub)
	return &SubscriptionInfo{ID: sub.ID, PeriodEnd: periodEnd, CancelAt: cancelAt}, nil
}

// SubscriptionPeriod satisfies the reconciler's lookup interface.
func (c *Client) SubscriptionPeriod(ctx context.Context, subscriptionID string) (periodEnd, cancelAt *time.Time, err error) {
	info, err := c.LookupSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, nil, err
	}
	return info.PeriodEnd, info.CancelAt, nil
}

// ActiveSubscriptionForCustomer returns the customer's single active
// subscription, or nil when there is none.
func (c *Client) ActiveSubscriptionForCustomer(ctx context.Context, customerID string) (*SubscriptionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := subscription.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		periodEnd, cancelAt := PeriodInfo(sub)
		return &SubscriptionInfo{ID: sub.ID, PeriodEnd: periodEnd, CancelAt: cancelAt}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	return nil, nil
}

// PeriodInfo extracts the current period end (carried on the first
// subscription item) and the cancellation instant from a subscription.
func PeriodInfo(sub *stripe.Subscription) (periodEnd, cancelAt *time.Time) {
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if pe := sub.Items.Data[0].CurrentPeriodEnd; pe > 0 {
			t := time.Unix(pe, 0).UTC()
			periodEnd = &t
		}
	}
	if sub.CancelAt > 0 {
		t := time.Unix(sub.CancelAt, 0).UTC()
		cancelAt = &t
	}
	return periodEnd, cancelAt
}

// CreateCheckoutSession creates a subscription checkout session and returns
// its URL. The account ID rides along as the client reference so the
// completion webhook can resolve the account.
func (c *Client) CreateCheckoutSession(accountID string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		ClientReferenceID: stripe.String(accountID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"account_id": accountID},
		},
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession creates a billing portal session and returns
// its URL.
func (c *Client) CreateBillingPortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
