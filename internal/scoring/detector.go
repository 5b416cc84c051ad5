package scoring

import (
	"math"

	"github.com/matchpulse/matchpulse/internal/session"
)

// AlertClass is the push priority classification derived from the
// magnitude of a score change.
type AlertClass string

const (
	// AlertSilent is an ordinary content update with no client-visible
	// alert.
	AlertSilent AlertClass = "silent"
	// AlertNotable carries sound and elevated priority; a scoring play
	// big enough to tell the user about.
	AlertNotable AlertClass = "notable"
)

// Detector decides whether a freshly aggregated view differs enough from
// the last pushed one to warrant a push. Thresholds are tuning constants,
// not invariants; both come from configuration.
type Detector struct {
	// Epsilon is the minimum absolute change in any score or projection
	// total that counts as a change.
	Epsilon float64
	// NotableDelta is the top-performer delta above which a push escalates
	// from Silent to Notable.
	NotableDelta float64
}

// ShouldPush reports whether the new view warrants a push and what alert
// class it carries. A session that has never pushed always qualifies.
// Within epsilon on every field and with an unchanged top performer,
// nothing is sent, bounding push volume through quiet stretches.
func (d Detector) ShouldPush(last *session.View, next session.View) (bool, AlertClass) {
	changed := last == nil
	if !changed {
		changed = exceeds(last.TeamTotal, next.TeamTotal, d.Epsilon) ||
			exceeds(last.OpponentTotal, next.OpponentTotal, d.Epsilon) ||
			exceeds(last.TeamProjected, next.TeamProjected, d.Epsilon) ||
			exceeds(last.OpponentProjected, next.OpponentProjected, d.Epsilon) ||
			performerChanged(last.TopPerformer, next.TopPerformer, d.Epsilon)
	}

	if !changed {
		return false, AlertSilent
	}

	if next.TopPerformer != nil && next.TopPerformer.Delta > d.NotableDelta {
		return true, AlertNotable
	}
	return true, AlertSilent
}

// exceeds reports whether two totals differ by more than eps.
func exceeds(a, b, eps float64) bool {
	return math.Abs(a-b) > eps
}

// performerChanged reports whether the top performer's identity or delta
// moved.
func performerChanged(last, next *session.Performer, eps float64) bool {
	if last == nil && next == nil {
		return false
	}
	if (last == nil) != (next == nil) {
		return true
	}
	return last.PlayerID != next.PlayerID || exceeds(last.Delta, next.Delta, eps)
}
