package tracker

import (
	"github.com/refocus/refocus/internal/models"
)

// Action is the overlay instruction derived from a foreground change.
type Action int

const (
	NoChange Action = iota
	Start
	Stop
)

func (a Action) String() string {
	switch a {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "no-change"
	}
}

// Decision carries the action and the subject it applies to: the new
// subject for Start, the one that was left for Stop.
type Decision struct {
	Action  Action
	Subject models.Subject
}

// reduce advances the foreground state. Transitions are edge triggered:
// membership of the previous foreground app is evaluated against the new
// target set, so reshaping the set while an app stays in front never fires
// Start again.
func reduce(current *models.Subject, next models.Subject, targets models.TargetSet) Decision {
	previous := *current
	wasTarget := targets.Contains(previous)
	isTarget := targets.Contains(next)

	*current = next

	switch {
	case !wasTarget && isTarget:
		return Decision{Action: Start, Subject: next}
	case wasTarget && !isTarget:
		return Decision{Action: Stop, Subject: previous}
	default:
		return Decision{Action: NoChange}
	}
}
