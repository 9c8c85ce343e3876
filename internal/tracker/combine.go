package tracker

import (
	"time"

	"github.com/refocus/refocus/internal/models"
)

// joint is the combined view handed to the reducer.
type joint struct {
	subject models.Subject
	targets models.TargetSet
	at      time.Time
}

// latest caches the most recent value of both inputs. Either side may tick
// on its own; nothing is produced until both have been seen once, after
// that every update is paired with the other side's latest value.
type latest struct {
	subject     models.Subject
	haveSubject bool
	targets     models.TargetSet
	haveTargets bool
}

func (l *latest) setForeground(s ForegroundSample) (joint, bool) {
	l.subject, l.haveSubject = s.Subject, true
	return l.joint(s.ObservedAt)
}

func (l *latest) setTargets(targets models.TargetSet, at time.Time) (joint, bool) {
	l.targets, l.haveTargets = targets, true
	return l.joint(at)
}

func (l *latest) joint(at time.Time) (joint, bool) {
	if !l.haveSubject || !l.haveTargets {
		return joint{}, false
	}
	return joint{subject: l.subject, targets: l.targets, at: at}, true
}
