// Package reminder classifies trial accounts by derived state and delivers
// at most one trial notification per account per UTC day.
package reminder

import (
	"fmt"

	"github.com/menolisa/billing/internal/model"
	"github.com/menolisa/billing/internal/trial"
)

// State is the reminder classification of a trial account.
type State int

const (
	StateNone State = iota
	StateWarning
	StateUrgent
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateWarning:
		return "warning"
	case StateUrgent:
		return "urgent"
	case StateExpired:
		return "expired"
	default:
		return "none"
	}
}

// Classify maps a derived trial status to a reminder state. DaysLeft
// rounds up, so the final partial day still reads 1 and classifies as a
// warning; urgent covers the edge where the clock reads zero before the
// expiry flag does.
func Classify(st trial.Status) State {
	switch {
	case st.Expired:
		return StateExpired
	case st.DaysLeft >= 1 && st.DaysLeft <= 2:
		return StateWarning
	case st.DaysLeft == 0:
		return StateUrgent
	default:
		return StateNone
	}
}

// Compose returns the notification title, message, and priority for a
// reminder state.
func Compose(state State, daysLeft int) (title, message, priority string) {
	switch state {
	case StateExpired:
		return "Trial ended",
			"Your trial has ended. Manage your subscription at menolisa.com to continue.",
			model.PriorityHigh
	case StateUrgent:
		return "Trial Ending Today",
			"Your trial ends today. Manage your subscription at menolisa.com.",
			model.PriorityHigh
	case StateWarning:
		dayWord := "days"
		if daysLeft == 1 {
			dayWord = "day"
		}
		return "Trial Ending Soon",
			fmt.Sprintf("Your trial ends in %d %s. Manage your subscription at menolisa.com.", daysLeft, dayWord),
			model.PriorityMedium
	default:
		return "", "", ""
	}
}
