package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/menolisa/billing/internal/store"
	"github.com/menolisa/billing/internal/trial"
)

type TrialHandler struct {
	trials *store.TrialStore
	logger *slog.Logger
}

func NewTrialHandler(trials *store.TrialStore, logger *slog.Logger) *TrialHandler {
	return &TrialHandler{trials: trials, logger: logger}
}

type trialStatusResponse struct {
	trial.Status
	AccountStatus        string `json:"accountStatus"`
	SubscriptionCanceled bool   `json:"subscriptionCanceled"`
	TrialDays            int    `json:"trialDays"`
}

// Status handles GET /api/trial. The first request for an account starts
// its trial clock.
func (h *TrialHandler) Status(w http.ResponseWriter, r *http.Request) {
	accountID := AccountIDFromContext(r.Context())

	rec, err := h.trials.EnsureStarted(accountID, time.Now().UTC())
	if err != nil {
		h.logger.Error("ensure trial started", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load trial")
		return
	}

	writeJSON(w, http.StatusOK, trialStatusResponse{
		Status:               trial.ForRecord(*rec, time.Now().UTC()),
		AccountStatus:        rec.AccountStatus,
		SubscriptionCanceled: rec.SubscriptionCanceled,
		TrialDays:            rec.TrialDays,
	})
}
