package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/menolisa/billing/internal/reminder"
)

// CronHandler exposes scheduled jobs to an external trigger, for
// deployments where an outside cron beats the in-process ticker.
type CronHandler struct {
	scheduler *reminder.Scheduler
	logger    *slog.Logger
}

func NewCronHandler(s *reminder.Scheduler, logger *slog.Logger) *CronHandler {
	return &CronHandler{scheduler: s, logger: logger}
}

// TrialReminders handles POST /internal/cron/trial-reminders. Safe to call
// repeatedly: the per-day dedup makes a second run a no-op.
func (h *CronHandler) TrialReminders(w http.ResponseWriter, r *http.Request) {
	res, err := h.scheduler.RunOnce(r.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Error("trial reminder run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reminder run failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"total":   res.Total,
		"sent":    res.Sent,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	})
}
