package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/menolisa/billing/internal/handler"
	"github.com/menolisa/billing/internal/live"
	"github.com/menolisa/billing/internal/middleware"
	"github.com/menolisa/billing/internal/push"
	"github.com/menolisa/billing/internal/reconcile"
	"github.com/menolisa/billing/internal/reminder"
	"github.com/menolisa/billing/internal/store"
	billingstripe "github.com/menolisa/billing/internal/stripe"
)

type Config struct {
	Stripe          billingstripe.Config
	BaseURL         string
	JWTSecret       string
	CronSecret      string
	Push            push.Config
	ReminderHourUTC int
}

type Server struct {
	db                *sql.DB
	trialStore        *store.TrialStore
	notificationStore *store.NotificationStore
	pushStore         *store.PushStore
	stripeClient      *billingstripe.Client
	reconciler        *reconcile.Reconciler
	scheduler         *reminder.Scheduler
	pushService       *push.Service

	webhookH      *handler.WebhookHandler
	trialH        *handler.TrialHandler
	checkoutH     *handler.CheckoutHandler
	syncH         *handler.SyncHandler
	pushH         *handler.PushHandler
	notificationH *handler.NotificationHandler
	cronH         *handler.CronHandler

	cfg         Config
	logger      *slog.Logger
	rateLimiter *middleware.RateLimiter
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	trialStore := store.NewTrialStore(db)
	notificationStore := store.NewNotificationStore(db)
	pushStore := store.NewPushStore(db)

	var stripeClient *billingstripe.Client
	if cfg.Stripe.SecretKey != "" {
		stripeClient = billingstripe.NewClient(cfg.Stripe)
	}

	pushService := push.NewService(cfg.Push)
	dispatcher := push.NewDispatcher(pushService, pushStore, logger.With("component", "push"))

	// The reconciler takes the lookup as an interface; a nil client means
	// checkout completions are marked paid without a period end.
	var lookup reconcile.SubscriptionLookup
	if stripeClient != nil {
		lookup = stripeClient
	}
	reconciler := reconcile.New(trialStore, lookup, logger.With("component", "reconcile"))

	scheduler := reminder.NewScheduler(trialStore, notificationStore, dispatcher,
		logger.With("component", "reminder"), cfg.ReminderHourUTC)

	var webhookH *handler.WebhookHandler
	var checkoutH *handler.CheckoutHandler
	var syncH *handler.SyncHandler
	if stripeClient != nil {
		webhookH = handler.NewWebhookHandler(stripeClient, reconciler, logger.With("component", "webhook"))
		checkoutH = handler.NewCheckoutHandler(stripeClient, trialStore, cfg.BaseURL, logger.With("component", "checkout"))
		syncH = handler.NewSyncHandler(stripeClient, trialStore, logger.With("component", "sync"))
	}

	return &Server{
		db:                db,
		trialStore:        trialStore,
		notificationStore: notificationStore,
		pushStore:         pushStore,
		stripeClient:      stripeClient,
		reconciler:        reconciler,
		scheduler:         scheduler,
		pushService:       pushService,
		webhookH:          webhookH,
		trialH:            handler.NewTrialHandler(trialStore, logger.With("component", "trial")),
		checkoutH:         checkoutH,
		syncH:             syncH,
		pushH:             handler.NewPushHandler(pushStore, pushService, logger.With("component", "push")),
		notificationH:     handler.NewNotificationHandler(notificationStore, logger.With("component", "notification")),
		cronH:             handler.NewCronHandler(scheduler, logger.With("component", "cron")),
		cfg:               cfg,
		logger:            logger,
		rateLimiter:       middleware.NewRateLimiter(),
	}
}

// Scheduler returns the reminder scheduler so main can run its loop.
func (s *Server) Scheduler() *reminder.Scheduler {
	return s.scheduler
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Stripe webhook (public, signature-verified)
	if s.webhookH != nil {
		mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	// Internal cron trigger
	cronMw := middleware.RequireCronSecret(s.cfg.CronSecret)
	mux.Handle("POST /internal/cron/trial-reminders", cronMw(http.HandlerFunc(s.cronH.TrialReminders)))

	// Public push key
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Authenticated API
	authMw := middleware.RequireAuth([]byte(s.cfg.JWTSecret))
	mux.Handle("GET /api/trial", authMw(http.HandlerFunc(s.trialH.Status)))
	mux.Handle("GET /ws/trial", authMw(live.Handler(s.trialStore, s.logger.With("component", "live"))))
	mux.Handle("GET /api/notifications", authMw(http.HandlerFunc(s.notificationH.List)))
	mux.Handle("GET /api/notifications/unread-count", authMw(http.HandlerFunc(s.notificationH.UnreadCount)))
	mux.Handle("POST /api/notifications/read-all", authMw(http.HandlerFunc(s.notificationH.MarkAllRead)))
	mux.Handle("POST /api/push/subscribe", authMw(http.HandlerFunc(s.pushH.Subscribe)))
	mux.Handle("POST /api/push/unsubscribe", authMw(http.HandlerFunc(s.pushH.Unsubscribe)))

	if s.checkoutH != nil {
		mux.Handle("POST /api/checkout", authMw(http.HandlerFunc(s.checkoutH.CreateCheckoutSession)))
		mux.Handle("POST /api/billing-portal", authMw(http.HandlerFunc(s.checkoutH.BillingPortal)))
	}
	if s.syncH != nil {
		// Each sync hits Stripe directly, so keep a tight per-IP budget.
		rateLimitMw := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
		mux.Handle("POST /api/sync-subscription", rateLimitMw(authMw(http.HandlerFunc(s.syncH.SyncSubscription))))
	}

	return mux
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
