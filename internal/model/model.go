package model

import "time"

// Account status values stored on a trial record. The status flag is
// authoritative but can lag behind the clock; derived expiry wins for
// access decisions.
const (
	StatusTrial   = "trial"
	StatusPaid    = "paid"
	StatusExpired = "expired"
)

// DefaultTrialDays is the free period granted to new accounts.
const DefaultTrialDays = 3

// TrialRecord is the persisted trial/billing state for one account.
// Once the account is paid, TrialEnd holds the current billing period end
// instead of the trial end; only one end instant is authoritative at a time.
type TrialRecord struct {
	AccountID            string     `json:"account_id"`
	TrialStart           *time.Time `json:"trial_start"`
	TrialEnd             *time.Time `json:"trial_end"`
	TrialDays            int        `json:"trial_days"`
	AccountStatus        string     `json:"account_status"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	SubscriptionCanceled bool       `json:"subscription_canceled"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// EventKind identifies the billing events the reconciler acts on.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout_completed"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
)

// BillingEvent is the provider-neutral form of an inbound payment event,
// decoded from the raw Stripe payload at the HTTP edge. It is transient
// input and never persisted.
type BillingEvent struct {
	Kind           EventKind
	AccountID      string // best-effort account reference carried by the provider; may be empty
	SubscriptionID string
	CustomerID     string
	PeriodEnd      *time.Time
	CancelAt       *time.Time
}

// Notification types and priorities.
const (
	NotifTypeTrial = "trial"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
)

// Notification is an append-only in-app notification record.
type Notification struct {
	ID        int64      `json:"id"`
	AccountID string     `json:"account_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Priority  string     `json:"priority"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PushSubscription is a Web Push endpoint registered by one of an
// account's devices.
type PushSubscription struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Backup statuses.
const (
	BackupStatusPending   = "pending"
	BackupStatusUploading = "uploading"
	BackupStatusCompleted = "completed"
	BackupStatusFailed    = "failed"
)

// BackupRecord tracks one encrypted database snapshot.
type BackupRecord struct {
	ID          int64      `json:"id"`
	Filename    string     `json:"filename"`
	S3Key       string     `json:"s3_key"`
	Status      string     `json:"status"`
	SizeBytes   int64      `json:"size_bytes"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
