package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/menolisa/billing/internal/backup"
	"github.com/menolisa/billing/internal/database"
	"github.com/menolisa/billing/internal/logging"
	"github.com/menolisa/billing/internal/middleware"
	"github.com/menolisa/billing/internal/push"
	"github.com/menolisa/billing/internal/server"
	"github.com/menolisa/billing/internal/store"
	billingstripe "github.com/menolisa/billing/internal/stripe"
)

func main() {
	logger := logging.Setup(os.Getenv("BILLING_LOG_LEVEL"))

	port := os.Getenv("BILLING_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("BILLING_DB_PATH")
	if dbPath == "" {
		dbPath = "billing.db"
	}

	baseURL := os.Getenv("BILLING_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := server.Config{
		Stripe: billingstripe.Config{
			SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
			PriceID:       os.Getenv("STRIPE_PRICE_ID"),
			SuccessURL:    baseURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:     baseURL + "/dashboard/settings",
		},
		BaseURL:         baseURL,
		JWTSecret:       os.Getenv("BILLING_JWT_SECRET"),
		CronSecret:      os.Getenv("BILLING_CRON_SECRET"),
		ReminderHourUTC: envInt("BILLING_REMINDER_HOUR_UTC", 9),
		Push: push.Config{
			VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
			Subscriber:      os.Getenv("VAPID_SUBSCRIBER"),
		},
	}

	srv := server.New(db, cfg, logger)

	// Daily reminder sweep
	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()
	srv.Scheduler().Start(schedCtx)
	defer srv.Scheduler().Stop()

	// Encrypted snapshots, enabled only when S3 and a passphrase are set
	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("BACKUP_S3_ENDPOINT"),
			Bucket:    os.Getenv("BACKUP_S3_BUCKET"),
			Region:    os.Getenv("BACKUP_S3_REGION"),
			AccessKey: os.Getenv("BACKUP_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("BACKUP_S3_SECRET_KEY"),
		},
		DBPath:        dbPath,
		Passphrase:    os.Getenv("BACKUP_PASSPHRASE"),
		HourUTC:       envInt("BACKUP_HOUR_UTC", 3),
		RetentionDays: envInt("BACKUP_RETENTION_DAYS", 30),
	}, db, store.NewBackupStore(db), logger.With("component", "backup"))
	backupMgr.Start(schedCtx)
	defer backupMgr.Stop()

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           middleware.RequestLogger(logger)(srv.Router()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("billing service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	schedCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
