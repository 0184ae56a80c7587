// Package trial derives an account's trial state from stored facts and a
// caller-supplied clock. Derivation is pure: the same facts and the same
// instant always produce the same status, so callers can recompute once per
// second for a live countdown without touching storage.
package trial

import (
	"time"

	"github.com/menolisa/billing/internal/model"
)

const day = 24 * time.Hour

// Facts are the stored inputs to a derivation. Start and End are nil when
// unknown; a nil Start means the trial clock has not begun and derivation
// never fabricates one.
type Facts struct {
	Start         *time.Time
	End           *time.Time
	TrialDays     int
	AccountStatus string
}

// Remaining is a duration decomposed into whole units, larger units first.
type Remaining struct {
	Days    int `json:"d"`
	Hours   int `json:"h"`
	Minutes int `json:"m"`
	Seconds int `json:"s"`
}

// Status is the derived trial state at a single instant.
type Status struct {
	Expired     bool       `json:"expired"`
	DaysLeft    int        `json:"daysLeft"`
	ElapsedDays int        `json:"elapsedDays"`
	ProgressPct float64    `json:"progressPct"`
	Remaining   Remaining  `json:"remaining"`
	End         *time.Time `json:"end,omitempty"`
}

// Derive computes the trial state for the given facts at the given instant.
//
// The effective end is End when set, otherwise Start plus TrialDays. Expiry
// is a three-way OR: the stored status flag, the remaining time hitting
// zero, or an explicit End in the past. The flag always wins, but time math
// can declare expiry before the flag catches up, so callers must treat
// Expired as authoritative over AccountStatus.
func Derive(f Facts, now time.Time) Status {
	trialDays := f.TrialDays
	if trialDays <= 0 {
		trialDays = model.DefaultTrialDays
	}

	if f.Start == nil {
		return Status{
			DaysLeft:  trialDays,
			Remaining: Remaining{Days: trialDays},
		}
	}

	end := f.Start.Add(time.Duration(trialDays) * day)
	if f.End != nil {
		end = *f.End
	}

	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	expired := f.AccountStatus == model.StatusExpired ||
		remaining == 0 ||
		(f.End != nil && f.End.Before(now))

	elapsedDays := int(now.Sub(*f.Start) / day)
	progressPct := float64(elapsedDays) / float64(trialDays) * 100
	if progressPct > 100 {
		progressPct = 100
	}

	return Status{
		Expired:     expired,
		DaysLeft:    ceilDays(remaining),
		ElapsedDays: elapsedDays,
		ProgressPct: progressPct,
		Remaining:   decompose(remaining),
		End:         &end,
	}
}

// DerivePaid computes the countdown for a paid account against its billing
// period end. A paid account with no known period end is never expired;
// the period gets filled in by a later subscription update.
func DerivePaid(end *time.Time, now time.Time) Status {
	if end == nil {
		return Status{}
	}

	remaining := end.Sub(now)
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Expired:   end.Before(now),
		DaysLeft:  ceilDays(remaining),
		Remaining: decompose(remaining),
		End:       end,
	}
}

// ForRecord derives the status for a stored record, picking the paid or
// trial computation based on the account status.
func ForRecord(rec model.TrialRecord, now time.Time) Status {
	if rec.AccountStatus == model.StatusPaid {
		return DerivePaid(rec.TrialEnd, now)
	}
	return Derive(FactsFor(rec), now)
}

// FactsFor extracts the derivation inputs from a stored record.
func FactsFor(rec model.TrialRecord) Facts {
	return Facts{
		Start:         rec.TrialStart,
		End:           rec.TrialEnd,
		TrialDays:     rec.TrialDays,
		AccountStatus: rec.AccountStatus,
	}
}

func ceilDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}

func decompose(d time.Duration) Remaining {
	return Remaining{
		Days:    int(d / day),
		Hours:   int((d % day) / time.Hour),
		Minutes: int((d % time.Hour) / time.Minute),
		Seconds: int((d % time.Minute) / time.Second),
	}
}
