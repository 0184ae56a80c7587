package trial

import (
	"time"

	"github.com/menolisa/billing/internal/model"
)

// Countdown recomputes a record's trial state against an advancing clock.
// The record is captured once, so ticking once per second costs no storage
// reads; call Refresh with a re-fetched record when the facts may have
// changed (e.g. after a payment event).
type Countdown struct {
	rec model.TrialRecord
}

// NewCountdown captures the record's facts for repeated derivation.
func NewCountdown(rec model.TrialRecord) *Countdown {
	return &Countdown{rec: rec}
}

// At derives the status at the given instant, purely in memory.
func (c *Countdown) At(now time.Time) Status {
	return ForRecord(c.rec, now)
}

// Refresh replaces the captured facts.
func (c *Countdown) Refresh(rec model.TrialRecord) {
	c.rec = rec
}
